package durex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

var errStillPending = errors.New("durex: signals still pending")

// Sizer reports how many executions are still in flight.
type Sizer interface {
	Size() int
}

// Drain polls s every interval until it reports zero or ctx ends.
func Drain(ctx context.Context, s Sizer, interval time.Duration) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	err := retry.Do(ctx, retry.NewConstant(interval), func(ctx context.Context) error {
		if n := s.Size(); n > 0 {
			return retry.RetryableError(fmt.Errorf("%w: %d", errStillPending, n))
		}
		return nil
	})
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("drain: %w", context.Cause(ctx))
	}
	return err
}
