package stest

import (
	"testing"
	"time"
)

// ScheduleDuration is how long the helpers wait
// before deciding that a value is not going to arrive.
// It is long enough to absorb scheduler noise on a loaded CI machine,
// but short enough that a failing test reports quickly.
const ScheduleDuration = 250 * time.Millisecond

// ReceiveSoon receives a value from ch,
// failing the test if nothing arrives within ScheduleDuration.
func ReceiveSoon[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(ScheduleDuration):
		t.Fatalf("did not receive value within %s", ScheduleDuration)
	}

	panic("unreachable")
}

// SendSoon sends v on ch,
// failing the test if the send does not complete within ScheduleDuration.
func SendSoon[T any](t *testing.T, ch chan<- T, v T) {
	t.Helper()

	select {
	case ch <- v:
		// Okay.
	case <-time.After(ScheduleDuration):
		t.Fatalf("could not send value within %s", ScheduleDuration)
	}
}

// IsSending asserts that ch is immediately readable,
// either because it holds a value or because it is closed.
func IsSending[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
		// Okay.
	default:
		t.Fatal("channel was not ready to receive")
	}
}

// NotSending asserts that ch has nothing to receive right now.
func NotSending[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
		t.Fatal("channel unexpectedly had a value ready")
	default:
		// Okay.
	}
}

// NotSendingSoon is like NotSending,
// but it waits briefly to give a racing sender a chance to appear.
func NotSendingSoon[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
		t.Fatal("channel unexpectedly had a value ready")
	case <-time.After(ScheduleDuration / 5):
		// Okay.
	}
}
