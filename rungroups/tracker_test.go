package rungroups

import "testing"

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusPartial, StatusCompleted, StatusFailed, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("expected %s terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusRunning} {
		if s.Terminal() {
			t.Errorf("expected %s not terminal", s)
		}
	}
}
