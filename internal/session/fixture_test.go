package session

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"bintail/internal/session/sessiontest"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// open builds f and loads it.
func open(t *testing.T, f *sessiontest.Fixture) (*Session, string) {
	t.Helper()
	path := f.Build(t)
	s, err := Open(path, Options{Logger: discard})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}
