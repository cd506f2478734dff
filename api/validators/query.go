package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/adtrail-backend/pkg/errors"
	"github.com/angelmondragon/adtrail-backend/pkg/pagination"
)

// maxCursorLen bounds the opaque cursor token well above any encoded cursor.
const maxCursorLen = 256

// ParsePage reads ?limit= and ?cursor= for list endpoints. The cursor stays opaque here;
// the service decides whether it is well formed.
func ParsePage(r *http.Request) (pagination.Params, error) {
	limit, err := ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	if len(cursor) > maxCursorLen {
		return pagination.Params{}, fieldError("cursor", "is too long")
	}
	return pagination.Params{Limit: limit, Cursor: cursor}, nil
}

// ParseQueryInt returns the integer query value for key, or defaultVal when absent.
func ParseQueryInt(r *http.Request, key string, defaultVal, lo, hi int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fieldError(key, "must be an integer")
	}
	if value < lo || value > hi {
		return 0, fieldError(key, "must be between "+strconv.Itoa(lo)+" and "+strconv.Itoa(hi))
	}
	return value, nil
}

func fieldError(field, message string) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid query parameter").
		WithDetails(map[string]string{field: message})
}
