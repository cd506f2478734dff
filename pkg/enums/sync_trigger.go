package enums

import "slices"

// SyncTrigger identifies what started a sync run.
type SyncTrigger string

const (
	SyncTriggerManual    SyncTrigger = "manual"
	SyncTriggerScheduled SyncTrigger = "scheduled"
)

var validSyncTriggers = []SyncTrigger{
	SyncTriggerManual,
	SyncTriggerScheduled,
}

func (t SyncTrigger) IsValid() bool {
	return slices.Contains(validSyncTriggers, t)
}

func ParseSyncTrigger(value string) (SyncTrigger, error) {
	return parse(value, validSyncTriggers, "sync trigger")
}
