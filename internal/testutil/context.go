// Package testutil provides fakes and helpers shared by the profiler tests.
package testutil

import (
	"context"
	"testing"
	"time"
)

// TestTimeout bounds every context made by NewTestContext.
const TestTimeout = 30 * time.Second

// NewTestContext returns a context that ends with the test or after
// TestTimeout, whichever comes first.
func NewTestContext(t testing.TB) (context.Context, context.CancelFunc) {
	return context.WithTimeout(t.Context(), TestTimeout)
}
