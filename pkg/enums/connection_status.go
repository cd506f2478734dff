package enums

import "slices"

// ConnectionStatus tracks the credential state of an external connection.
type ConnectionStatus string

const (
	ConnectionStatusConnected           ConnectionStatus = "connected"
	ConnectionStatusPendingVerification ConnectionStatus = "pending_verification"
	ConnectionStatusTokenExpired        ConnectionStatus = "token_expired"
	ConnectionStatusNeedsReconnect      ConnectionStatus = "needs_reconnect"
)

var validConnectionStatuses = []ConnectionStatus{
	ConnectionStatusConnected,
	ConnectionStatusPendingVerification,
	ConnectionStatusTokenExpired,
	ConnectionStatusNeedsReconnect,
}

func (s ConnectionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ConnectionStatus.
func (s ConnectionStatus) IsValid() bool {
	return slices.Contains(validConnectionStatuses, s)
}

// Syncable reports whether a sync may attempt to use the connection.
// token_expired rows are included since the token manager can still refresh them.
func (s ConnectionStatus) Syncable() bool {
	return s == ConnectionStatusConnected || s == ConnectionStatusTokenExpired
}

func ParseConnectionStatus(value string) (ConnectionStatus, error) {
	return parse(value, validConnectionStatuses, "connection status")
}
