package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger for handing to server components under
// test. Lines carry the test name so interleaved output from parallel
// tests can be told apart.
func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[beacon] "+t.Name()+" ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}
