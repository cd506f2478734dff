package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/angelmondragon/adtrail-backend/pkg/errors"
	"github.com/angelmondragon/adtrail-backend/pkg/logger"
	"github.com/angelmondragon/adtrail-backend/pkg/types"
)

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteError renders err as an error envelope. Untyped errors become INTERNAL_ERROR and
// never expose their text; client-side codes may carry their own message and details.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	rendered := pkgerrors.Render(err)
	if logg != nil {
		var details any
		if typed := pkgerrors.As(err); typed != nil {
			details = typed.Details()
		}
		logError(ctx, logg, err, rendered.Status, details)
	}
	writeJSON(w, rendered.Status, types.ErrorEnvelope{Error: types.APIError{
		Code:      string(rendered.Code),
		Message:   rendered.Message,
		Details:   rendered.Details,
		RequestID: w.Header().Get(types.RequestIDHeader),
	}})
}

// logError keeps 4xx responses at warn so client mistakes do not page anyone.
func logError(ctx context.Context, logg *logger.Logger, err error, status int, details any) {
	fields := pkgerrors.Dump(err).LogFields()
	fields["status"] = status
	if dm, ok := details.(map[string]any); ok {
		for _, key := range []string{"step", "connection_id", "dependency"} {
			if v, ok := dm[key]; ok {
				fields[key] = v
			}
		}
	}
	ctx = logg.WithFields(ctx, fields)
	if status < http.StatusInternalServerError {
		logg.Warn(ctx, "request.rejected")
		return
	}
	logg.Error(ctx, "request.error", err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; an encode failure here means the client went away.
	_ = json.NewEncoder(w).Encode(payload)
}
