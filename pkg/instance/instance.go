package instance

import (
	"os"
	"strings"
)

const fallbackID = "adtrail-0"

// ID identifies this process among replicas. ADTRAIL_INSTANCE_ID wins, then the
// hostname (the pod name on Kubernetes / Cloud Run).
func ID() string {
	if id := strings.TrimSpace(os.Getenv("ADTRAIL_INSTANCE_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
