package health

import (
	"context"
	"errors"
	"fmt"
)

// ConnectedChecker reports healthy while connected reports true. It is meant
// for the host channel: connected is typically a closure over
// [channel.Channel.State].
func ConnectedChecker(name string, connected func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(_ context.Context) error {
			if !connected() {
				return errors.New("not connected")
			}
			return nil
		},
	}
}

// StoreChecker probes the voice preset store by running probe, usually a
// cheap read against the backing database.
func StoreChecker(name string, probe func(ctx context.Context) error) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			if err := probe(ctx); err != nil {
				return fmt.Errorf("store probe: %w", err)
			}
			return nil
		},
	}
}
