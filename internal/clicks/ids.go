package clicks

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

const (
	clickIDPrefix     = "clk_"
	syntheticIDPrefix = "bot_"
)

// NewClickID mints an opaque click identifier: millisecond timestamp in base36 plus
// 64 random bits. Counters are avoided since capture runs unauthenticated and concurrently.
func NewClickID(now time.Time) string {
	return clickIDPrefix + strconv.FormatInt(now.UnixMilli(), 36) + "_" + randomHex(8)
}

// NewSyntheticClickID mints the id handed to crawlers. It is never persisted.
func NewSyntheticClickID(now time.Time) string {
	return syntheticIDPrefix + strconv.FormatInt(now.UnixMilli(), 36) + "_" + randomHex(4)
}

// IsSyntheticClickID reports whether the id was minted for a crawler hit.
func IsSyntheticClickID(id string) bool {
	return strings.HasPrefix(strings.TrimSpace(id), syntheticIDPrefix)
}

// randomHex returns n random bytes hex encoded.
func randomHex(n int) string {
	b := make([]byte, n)
	// crypto/rand.Read never fails on supported platforms.
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
