package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/adtrail-backend/api/responses"
	"github.com/angelmondragon/adtrail-backend/internal/connections"
	"github.com/angelmondragon/adtrail-backend/pkg/logger"
)

type connectionLister interface {
	List(ctx context.Context, userID uuid.UUID) ([]connections.ConnectionView, error)
}

// ListConnections returns the caller's marketplace connections with their token state.
func ListConnections(svc connectionLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		views, err := svc.List(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if views == nil {
			views = []connections.ConnectionView{}
		}
		responses.WriteSuccess(w, views)
	}
}
