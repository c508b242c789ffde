// Package plan handles bintail specialization plans: TOML files naming the
// values to set, the variables to freeze and where to write the result.
//
//	output = "app.special"
//	trim   = true
//	freeze = ["config"]
//
//	[values]
//	config = 1
package plan

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"bintail/internal/session"
)

var ErrUnknownKey = errors.New("plan: unknown key")

// Plan is a parsed specialization plan.
type Plan struct {
	Output string           `toml:"output"`
	Trim   bool             `toml:"trim"`
	Values map[string]int64 `toml:"values"`
	// Freeze lists variables to apply, in order. When empty, every variable
	// named in Values is frozen.
	Freeze    []string `toml:"freeze"`
	FreezeAll bool     `toml:"freeze-all"`

	// Path is the file the plan was loaded from (set at load time).
	Path string `toml:"-"`
}

// Load parses the plan file at path.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	p, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	p.Path = path
	return p, nil
}

// Parse decodes a plan. Unknown keys are rejected.
func Parse(data string) (*Plan, error) {
	var p Plan
	md, err := toml.Decode(data, &p)
	if err != nil {
		return nil, err
	}
	if un := md.Undecoded(); len(un) > 0 {
		keys := make([]string, len(un))
		for i, k := range un {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, strings.Join(keys, ", "))
	}
	return &p, nil
}

// Names returns the value names in sorted order.
func (p *Plan) Names() []string {
	names := make([]string, 0, len(p.Values))
	for name := range p.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FreezeOrder returns the variables Run applies, in order.
func (p *Plan) FreezeOrder(s *session.Session) []string {
	switch {
	case p.FreezeAll:
		return s.Model.Names()
	case len(p.Freeze) > 0:
		return p.Freeze
	}
	return p.Names()
}

// Run sets the plan's values, freezes variables, optionally trims and writes
// the result to output. An empty output falls back to the plan's Output and
// then to the input file.
func (p *Plan) Run(s *session.Session, output string) error {
	for _, name := range p.Names() {
		// Negative values keep their two's complement bits; SetValue masks
		// them to the variable width.
		if err := s.SetValue(name, uint64(p.Values[name])); err != nil {
			return err
		}
	}
	for _, name := range p.FreezeOrder(s) {
		if err := s.Apply(name); err != nil {
			return err
		}
	}
	if p.Trim {
		if err := s.Trim(); err != nil {
			return err
		}
	}
	if output == "" {
		output = p.Output
	}
	return s.Write(output)
}
