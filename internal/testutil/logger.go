package testutil

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
)

// NewTestLogger returns a debug-level logger that writes through t.Log under
// go test -v and discards everything otherwise.
func NewTestLogger(t testing.TB) zerolog.Logger {
	var w io.Writer = io.Discard
	if testing.Verbose() {
		w = zerolog.NewTestWriter(t)
	}
	return zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger()
}
