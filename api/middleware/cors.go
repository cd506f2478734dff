package middleware

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/angelmondragon/adtrail-backend/pkg/config"
	"github.com/angelmondragon/adtrail-backend/pkg/types"
)

// CORS returns middleware that lets the dashboard origins call the JSON API.
func CORS(cfg config.CORSConfig) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", types.RequestIDHeader},
		ExposedHeaders:   []string{types.RequestIDHeader, retryAfterHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler
}
