package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stanstork/lms-import/internal/authz"
	"github.com/stanstork/lms-import/internal/models"
	"github.com/stanstork/lms-import/internal/notification"
)

type NotificationHandler struct {
	service notification.Service
	logger  zerolog.Logger
}

func NewNotificationHandler(service notification.Service, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{
		service: service,
		logger:  logger.With().Str("handler", "notification").Logger(),
	}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := authz.TenantIDFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing tenant context")
		return
	}

	limit := queryInt(r, "limit", 25)
	if limit <= 0 {
		limit = 25
	}
	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	filter := models.NotificationFilter{
		UnreadOnly: unreadOnly,
		JobID:      strings.TrimSpace(r.URL.Query().Get("job_id")),
		Limit:      limit,
	}
	if filter.JobID != "" {
		if _, err := uuid.Parse(filter.JobID); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid job ID")
			return
		}
	}

	notifications, err := h.service.List(r.Context(), tenantID, filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list notifications")
		writeError(w, http.StatusInternalServerError, "Failed to list notifications")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"notifications": notifications,
	})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := authz.TenantIDFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing tenant context")
		return
	}

	notifID := strings.TrimSpace(mux.Vars(r)["notificationID"])
	if notifID == "" {
		writeError(w, http.StatusBadRequest, "Notification ID is required")
		return
	}

	notif, err := h.service.MarkRead(r.Context(), tenantID, notifID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "Notification not found")
			return
		}
		h.logger.Error().Err(err).Str("notification_id", notifID).Msg("failed to mark notification as read")
		writeError(w, http.StatusInternalServerError, "Failed to update notification")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"notification": notif,
	})
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := authz.TenantIDFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing tenant context")
		return
	}

	updated, err := h.service.MarkAllRead(r.Context(), tenantID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to mark notifications as read")
		writeError(w, http.StatusInternalServerError, "Failed to update notifications")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"updated": updated,
	})
}
