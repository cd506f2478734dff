package providers

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/adtrail-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/adtrail-backend/pkg/errors"
)

const (
	defaultRetryAttempts   = 4
	defaultRetryBackoff    = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second
)

// RetryPolicy bounds how often a transient provider failure is retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

// RetryPolicyFor reads the provider retry settings of a sync config.
func RetryPolicyFor(cfg config.SyncConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    cfg.ProviderRetries,
		InitialBackoff: cfg.ProviderBackoff,
		MaximumBackoff: cfg.ProviderMaxBackoff,
	}.withDefaults()
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultRetryAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultRetryBackoff
	}
	if p.MaximumBackoff < p.InitialBackoff {
		p.MaximumBackoff = max(defaultRetryMaxBackoff, p.InitialBackoff)
	}
	return p
}

func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.InitialBackoff)
	b = retry.WithCappedDuration(p.MaximumBackoff, b)
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}

// Retry calls fn until it succeeds or fails with an error other than DEPENDENCY_ERROR.
// Once the attempts run out the last dependency error is returned as is.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	return retry.DoValue(ctx, p.withDefaults().backoff(), func(ctx context.Context) (T, error) {
		v, err := fn(ctx)
		if pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
			return v, retry.RetryableError(err)
		}
		return v, err
	})
}
