package internal

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

const Int64Max = 1<<63 - 1

// GetBackoffTime returns a random duration in [0, 2^retries) * slotTime, capped at maximum.
func GetBackoffTime(retries int64, slotTime time.Duration, maximum time.Duration) (backoff time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			backoff = maximum
		}
	}()

	if slotTime <= 0 || retries <= 0 {
		return time.Duration(0)
	}
	// -1 is omitted, rand.Int63n is [0, n)
	umax := uint64(1) << retries
	if umax > Int64Max || umax == 0 {
		return maximum
	}
	n := rand.Int63n(int64(umax))

	// Prevents overflow
	u64Time := uint64(slotTime.Nanoseconds()) * uint64(n)
	if u64Time > Int64Max {
		return maximum
	}

	backoff = time.Duration(n) * slotTime
	if backoff > maximum {
		backoff = maximum
	}
	return backoff
}

// SleepBackedOff sleeps for GetBackoffTime or until ctx is done.
// It returns ctx.Err() if the sleep was interrupted.
func SleepBackedOff(ctx context.Context, retries int64, slotTime time.Duration, maximum time.Duration) error {
	timer := time.NewTimer(GetBackoffTime(retries, slotTime, maximum))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryBackedOff calls fn until it succeeds, attempts are used up or ctx is done.
// The last error of fn is returned.
func RetryBackedOff(ctx context.Context, attempts int64, slotTime time.Duration, maximum time.Duration, fn func(ctx context.Context) error) error {
	var err error
	for i := int64(0); i < attempts; i++ {
		if i > 0 {
			if sleepErr := SleepBackedOff(ctx, i, slotTime, maximum); sleepErr != nil {
				return err
			}
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		zap.S().Debugf("Attempt %d/%d failed: %s", i+1, attempts, err)
	}
	return err
}
