package pool

import (
	"testing"

	"github.com/duskforge/infercore/pkg/internal/xerr"
)

func TestRetryableKinds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind xerr.Kind
		want bool
	}{
		{KindNoWorkers, true},
		{KindCircuitOpen, true},
		{KindOutOfBudget, true},
		{KindSendError, true},
		{KindTimeout, true},
		{KindQueueFull, true},
		{KindShuttingDown, false},
		{KindRecvError, false},
		{KindModelError, false},
		{KindLoadFailed, false},
	}

	for _, tc := range cases {
		if got := Retryable(tc.kind); got != tc.want {
			t.Errorf("Retryable(%v) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}
