package streamer

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies every goroutine this package's tests start — the run
// loop started directly by newTestStreamer, and any pumpSource/pump
// goroutine a future test spawns — is reclaimed by the time the suite
// exits, matching the single-dedicated-goroutine model streamer.go
// documents.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
