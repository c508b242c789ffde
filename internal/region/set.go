package region

import "fmt"

// Set is the collection of loaded regions, addressable by name or address.
type Set struct {
	list   []*Region
	byName map[string]*Region
}

func NewSet() *Set {
	return &Set{byName: make(map[string]*Region)}
}

// Add registers r. Later regions with the same name replace earlier ones.
func (s *Set) Add(r *Region) {
	s.list = append(s.list, r)
	s.byName[r.Name] = r
}

// Get returns the region named name, or nil.
func (s *Set) Get(name string) *Region { return s.byName[name] }

// Require returns the named region or ErrMissingSection.
func (s *Set) Require(name string) (*Region, error) {
	if r := s.byName[name]; r != nil {
		return r, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrMissingSection, name)
}

// All returns every region in load order.
func (s *Set) All() []*Region { return s.list }

// Lookup returns the region containing addr.
func (s *Set) Lookup(addr uint64) (*Region, error) {
	for _, r := range s.list {
		if r.Size > 0 && r.Inside(addr) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: 0x%x", ErrUnmapped, addr)
}

// Read reads n bytes at addr from whichever region contains it.
func (s *Set) Read(addr uint64, n int) ([]byte, error) {
	r, err := s.Lookup(addr)
	if err != nil {
		return nil, err
	}
	return r.Read(addr, n)
}

// Write writes b at addr and marks the containing region dirty.
func (s *Set) Write(addr uint64, b []byte) error {
	r, err := s.Lookup(addr)
	if err != nil {
		return err
	}
	if err := r.Write(addr, b); err != nil {
		return err
	}
	r.MarkDirty()
	return nil
}

// CString reads a NUL-terminated string at addr.
func (s *Set) CString(addr uint64) (string, error) {
	r, err := s.Lookup(addr)
	if err != nil {
		return "", err
	}
	return r.CString(addr)
}

// Dirty returns the regions flagged for commit, in load order.
func (s *Set) Dirty() []*Region {
	var out []*Region
	for _, r := range s.list {
		if r.Dirty() {
			out = append(out, r)
		}
	}
	return out
}
