// Package backoff retries a fallible operation with randomized
// exponential backoff, used by inmemnet to model a replica reattempting
// delivery to a peer across a simulated network partition.
package backoff

import (
	"context"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// Retry calls try repeatedly until it returns without an error, using the
// default Config. The caller's ctx can cancel the loop; if ctx is already
// done, Retry returns ctx.Err() without calling try at all.
func Retry(ctx context.Context, try func() error) error {
	return Config{}.Retry(ctx, try)
}

// Config parameterizes Retry's backoff growth and reporting.
type Config struct {
	// Log receives one entry per failed attempt. Defaults to
	// logrus.StandardLogger() if nil.
	Log *logrus.Logger
	// MaxWait caps the backoff duration; zero means unbounded.
	MaxWait time.Duration
}

// Retry calls try repeatedly until it returns nil, backing off with
// growing random delay between attempts.
func (c Config) Retry(ctx context.Context, try func() error) error {
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	wait := time.Duration(1)
	for {
		before := time.Now()
		err := try()
		if err == nil {
			return nil
		}
		elapsed := time.Since(before)
		c.Log.WithError(err).Debug("backoff: attempt failed, retrying")

		if wait <= elapsed {
			wait = elapsed
		}
		wait += time.Duration(rand.Int63n(int64(wait) + 1))
		if c.MaxWait > 0 && wait > c.MaxWait {
			wait = c.MaxWait
		}

		t := time.NewTimer(wait)
		select {
		case <-t.C:
			continue
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}
