package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
)

// validate reports every out-of-range setting at once so a bad deploy fails with the
// full list instead of one key per restart.
func (c *Config) validate() error {
	var err error
	positive := func(key string, v int) {
		if v <= 0 {
			err = multierr.Append(err, fmt.Errorf("%s must be positive, got %d", key, v))
		}
	}

	positive("ADTRAIL_JWT_EXPIRATION_MINUTES", c.JWT.ExpirationMinutes)
	if c.JWT.Leeway < 0 {
		err = multierr.Append(err, fmt.Errorf("ADTRAIL_JWT_LEEWAY must not be negative, got %s", c.JWT.Leeway))
	}
	positive("ADTRAIL_PUBSUB_MAX_OUTSTANDING", c.PubSub.MaxOutstanding)
	positive("ADTRAIL_OUTBOX_PUBLISH_BATCH_SIZE", c.Outbox.BatchSize)
	positive("ADTRAIL_OUTBOX_MAX_ATTEMPTS", c.Outbox.MaxAttempts)
	positive("ADTRAIL_OUTBOX_RETENTION_DAYS", c.Outbox.RetentionDays)
	positive("ADTRAIL_OUTBOX_DLQ_RETENTION_DAYS", c.Outbox.DLQRetentionDays)
	positive("ADTRAIL_OUTBOX_RETENTION_BATCH", c.Outbox.RetentionBatch)
	positive("ADTRAIL_SYNC_PROVIDER_RETRIES", c.Sync.ProviderRetries)
	if c.Sync.ProviderMaxBackoff < c.Sync.ProviderBackoff {
		err = multierr.Append(err, fmt.Errorf("ADTRAIL_SYNC_PROVIDER_MAX_BACKOFF must not be below ADTRAIL_SYNC_PROVIDER_BACKOFF, got %s < %s", c.Sync.ProviderMaxBackoff, c.Sync.ProviderBackoff))
	}

	for key, spec := range map[string]string{
		"ADTRAIL_SYNC_ORDER_SCHEDULE":      c.Sync.OrderSyncSchedule,
		"ADTRAIL_SYNC_SETTLEMENT_SCHEDULE": c.Sync.SettlementSchedule,
		"ADTRAIL_SYNC_RETENTION_SCHEDULE":  c.Sync.RetentionSchedule,
	} {
		if _, parseErr := cron.ParseStandard(spec); parseErr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", key, parseErr))
		}
	}
	return err
}
