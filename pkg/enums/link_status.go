package enums

import "slices"

// LinkStatus is the lifecycle of a tracking link. Links are soft-disabled, never deleted.
type LinkStatus string

const (
	LinkStatusActive LinkStatus = "active"
	LinkStatusPaused LinkStatus = "paused"
)

var validLinkStatuses = []LinkStatus{
	LinkStatusActive,
	LinkStatusPaused,
}

func (s LinkStatus) String() string {
	return string(s)
}

func (s LinkStatus) IsValid() bool {
	return slices.Contains(validLinkStatuses, s)
}

func ParseLinkStatus(value string) (LinkStatus, error) {
	return parse(value, validLinkStatuses, "link status")
}
