package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failing() error { return errBoom }
func passing() error { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", Threshold: 3, Cooldown: time.Hour})

	for i := 0; i < 3; i++ {
		if err := b.Do(failing); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: err = %v, want errBoom", i, err)
		}
	}
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("State = %v, want open", got)
	}
	if err := b.Do(passing); !errors.Is(err, ErrOpen) {
		t.Errorf("Do while open: err = %v, want ErrOpen", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 3, Cooldown: time.Hour})

	b.Do(failing)
	b.Do(failing)
	b.Do(passing)
	b.Do(failing)
	b.Do(failing)

	if got := b.State(); got != BreakerClosed {
		t.Errorf("State = %v, want closed after interleaved success", got)
	}
}

func TestBreakerClosesAfterSuccessfulProbes(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Millisecond, ProbeMax: 2})

	b.Do(failing)
	time.Sleep(5 * time.Millisecond)

	if got := b.State(); got != BreakerProbing {
		t.Fatalf("State after cooldown = %v, want probing", got)
	}
	for i := 0; i < 2; i++ {
		if err := b.Do(passing); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if got := b.State(); got != BreakerClosed {
		t.Errorf("State = %v, want closed after probes", got)
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Millisecond, ProbeMax: 2})

	b.Do(failing)
	time.Sleep(5 * time.Millisecond)

	if err := b.Do(failing); !errors.Is(err, errBoom) {
		t.Fatalf("probe err = %v, want errBoom", err)
	}
	if err := b.Do(passing); !errors.Is(err, ErrOpen) {
		t.Errorf("Do after failed probe: err = %v, want ErrOpen", err)
	}
}

func TestBreakerReset(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Hour})

	b.Do(failing)
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("State = %v, want open", got)
	}
	b.Reset()
	if got := b.State(); got != BreakerClosed {
		t.Errorf("State after Reset = %v, want closed", got)
	}
	if err := b.Do(passing); err != nil {
		t.Errorf("Do after Reset: %v", err)
	}
}
