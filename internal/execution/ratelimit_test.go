package execution_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/derivatives-agent/internal/execution"
)

func TestOutboundLimiterAllowsBurst(t *testing.T) {
	l := execution.NewOutboundLimiter(10, 2)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("unexpected error on first call: %v", err)
	}
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("unexpected error on second burst call: %v", err)
	}
}

func TestOutboundLimiterRespectsCancelledContext(t *testing.T) {
	l := execution.NewOutboundLimiter(1, 1)
	l.Wait(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected an error when the context is already cancelled and the limiter has no tokens")
	}
}
