package convo

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain enables goroutine leak detection for the whole package. The
// manager's janitor goroutine must stop when Close is called.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
