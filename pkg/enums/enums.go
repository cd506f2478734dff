// Package enums holds the string-backed domain enums that are persisted in Postgres
// and echoed on the wire.
package enums

import (
	"fmt"
	"slices"
)

func parse[T ~string](value string, valid []T, kind string) (T, error) {
	if i := slices.Index(valid, T(value)); i >= 0 {
		return valid[i], nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, value)
}
