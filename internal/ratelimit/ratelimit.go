// Package ratelimit throttles per-actor operations such as edit suggestions.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// ErrLimitReached is returned by Take once the actor used up the period.
var ErrLimitReached = errors.New("rate limit exceeded")

// Status is the limiter state after a Take.
type Status struct {
	Limit     int64
	Remaining int64
	Reset     time.Time
}

// Limiter counts hits per key over a fixed period.
type Limiter struct {
	scope   string
	limiter *limiter.Limiter
}

// New returns a Limiter for rate (formatted like "10-H"). A nil client keeps
// counters in process memory.
func New(scope, rate string, client *redis.Client) (*Limiter, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", rate, err)
	}

	var st limiter.Store
	if client == nil {
		st = memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: scope})
	} else {
		st, err = sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: "ratelimit:" + scope})
		if err != nil {
			return nil, fmt.Errorf("redis limiter store: %w", err)
		}
	}
	return &Limiter{scope: scope, limiter: limiter.New(st, parsed)}, nil
}

// Take records one hit for key and fails with ErrLimitReached once the
// period's allowance is exhausted.
func (l *Limiter) Take(ctx context.Context, key string) (Status, error) {
	res, err := l.limiter.Get(ctx, key)
	if err != nil {
		return Status{}, fmt.Errorf("%s limiter: %w", l.scope, err)
	}
	st := Status{Limit: res.Limit, Remaining: res.Remaining, Reset: time.Unix(res.Reset, 0)}
	if res.Reached {
		return st, ErrLimitReached
	}
	return st, nil
}
