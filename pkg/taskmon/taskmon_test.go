package taskmon

import (
	"context"
	"testing"
	"time"
)

func TestMonitorTracksTaskLifecycle(t *testing.T) {
	mon := New(
		WithStallThreshold(50*time.Millisecond),
		WithCheckInterval(10*time.Millisecond),
	)
	defer mon.Stop()

	handle := mon.Go("test-watcher", func(ctx context.Context, hb Heartbeat) error {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				hb.Tick()
			}
		}
	})

	time.Sleep(20 * time.Millisecond)

	handle.Stop()
	select {
	case <-handle.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not stop in time")
	}

	status := handle.Status()
	if status.State != TaskStateCanceled {
		t.Fatalf("expected canceled state, got %s", status.State)
	}
	if status.HeartbeatStalled {
		t.Fatalf("expected no stall flag")
	}
}

func TestMonitorFlagsStalledHeartbeat(t *testing.T) {
	mon := New(
		WithStallThreshold(15*time.Millisecond),
		WithCheckInterval(5*time.Millisecond),
	)
	defer mon.Stop()

	handle := mon.Go("stuck-watcher", func(ctx context.Context, hb Heartbeat) error {
		hb.Tick()
		<-ctx.Done()
		return ctx.Err()
	})
	defer handle.Stop()

	time.Sleep(60 * time.Millisecond)

	if !handle.Status().HeartbeatStalled {
		t.Fatal("expected heartbeat to be flagged stalled")
	}
}
