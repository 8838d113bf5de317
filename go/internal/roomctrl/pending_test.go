package roomctrl

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestAckTrackerResolve(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tracker := newAckTracker(clock, 10*time.Second)

	done := tracker.Register("req-1")
	tracker.Resolve("req-1")

	if err := <-done; err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if tracker.Len() != 0 {
		t.Fatalf("expected empty tracker, got %d pending", tracker.Len())
	}
}

func TestAckTrackerReject(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tracker := newAckTracker(clock, 10*time.Second)

	done := tracker.Register("req-1")
	tracker.Reject("req-1", &CommandError{Message: "jammed"})

	err := <-done
	if err == nil || err.Error() != "jammed" {
		t.Fatalf("expected jammed error, got %v", err)
	}
}

func TestAckTrackerTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tracker := newAckTracker(clock, 10*time.Second)

	done := tracker.Register("req-1")

	clock.Advance(9 * time.Second)
	select {
	case err := <-done:
		t.Fatalf("settled before timeout: %v", err)
	default:
	}

	clock.Advance(time.Second)
	if err := <-done; !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if tracker.Len() != 0 {
		t.Fatalf("timed-out entry not removed")
	}

	// A late ack after the timeout is a no-op, not an error
	tracker.Resolve("req-1")
}

func TestAckTrackerLateAckIsNoOp(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tracker := newAckTracker(clock, 10*time.Second)

	tracker.Resolve("never-registered")
	tracker.Reject("never-registered", errors.New("nope"))
}

func TestAckTrackerDuplicateAck(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tracker := newAckTracker(clock, 10*time.Second)

	done := tracker.Register("req-1")
	tracker.Resolve("req-1")
	tracker.Resolve("req-1")
	tracker.Reject("req-1", errors.New("too late"))

	if err := <-done; err != nil {
		t.Fatalf("expected first settle to win, got %v", err)
	}
	select {
	case err := <-done:
		t.Fatalf("settled twice: %v", err)
	default:
	}
}

func TestAckTrackerUnregister(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tracker := newAckTracker(clock, 10*time.Second)

	done := tracker.Register("req-1")
	tracker.Unregister("req-1")

	clock.Advance(time.Minute)
	select {
	case err := <-done:
		t.Fatalf("unregistered request settled: %v", err)
	default:
	}
}

func TestAckTrackerRejectAll(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tracker := newAckTracker(clock, 10*time.Second)

	first := tracker.Register("req-1")
	second := tracker.Register("req-2")

	tracker.RejectAll(ErrConnectionLost)

	for _, done := range []<-chan error{first, second} {
		if err := <-done; !errors.Is(err, ErrConnectionLost) {
			t.Fatalf("expected connection lost, got %v", err)
		}
	}
	if tracker.Len() != 0 {
		t.Fatalf("expected empty tracker after RejectAll")
	}
}
