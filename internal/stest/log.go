package stest

import (
	"log/slog"
	"testing"

	"github.com/neilotoole/slogt"
)

// NewLogger returns a logger that writes through t.Log,
// so output is associated with the test that produced it.
func NewLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slogt.New(t)
}
