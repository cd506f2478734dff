package env

import (
	"os"
	"strings"
)

// Get reads key before config.Load runs, falling back when it is unset or blank.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
