package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/stanstork/lms-import/internal/authz"
	"github.com/stanstork/lms-import/internal/handlers"
	"github.com/stanstork/lms-import/internal/models"
)

// NewRouter sets up the API routes
func NewRouter(jwtSecret string, imports *handlers.ImportHandler, notifications *handlers.NotificationHandler) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(authz.JWTMiddleware(jwtSecret))

	api.HandleFunc("/notifications", notifications.List).Methods(http.MethodGet)
	api.HandleFunc("/notifications/read-all", notifications.MarkAllRead).Methods(http.MethodPost)
	api.HandleFunc("/notifications/{notificationID}/read", notifications.MarkRead).Methods(http.MethodPost)

	// Import pipeline, admins only. Literal segments are registered before {jobID}.
	im := api.PathPrefix("/imports").Subrouter()
	im.Use(authz.RequireRole(models.RoleAdmin))

	im.HandleFunc("", imports.ListJobs).Methods(http.MethodGet)
	im.HandleFunc("/summary", imports.Summary).Methods(http.MethodGet)
	im.HandleFunc("/templates/{kind}", imports.Template).Methods(http.MethodGet)
	im.HandleFunc("/{kind}/upload", imports.Upload).Methods(http.MethodPost)
	im.HandleFunc("/{kind}/{jobID}/mapping", imports.SaveMapping).Methods(http.MethodPut)
	im.HandleFunc("/{kind}/{jobID}/dry-run", imports.DryRun).Methods(http.MethodPost)
	im.HandleFunc("/{kind}/{jobID}/commit", imports.Commit).Methods(http.MethodPost)
	im.HandleFunc("/{jobID}/errors", imports.ListRowErrors).Methods(http.MethodGet)
	im.HandleFunc("/{jobID}", imports.GetJob).Methods(http.MethodGet)

	return router
}
