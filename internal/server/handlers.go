package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/localshield/internal/channels"
	"github.com/MarcoPoloResearchLab/localshield/internal/emergency"
	"github.com/MarcoPoloResearchLab/localshield/internal/events"
	"github.com/MarcoPoloResearchLab/localshield/internal/geo"
	"github.com/MarcoPoloResearchLab/localshield/internal/locations"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type tokenRequestPayload struct {
	UserID string `json:"user_id"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type coordinatePayload struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type locationPayload struct {
	UserID      string  `json:"user_id"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	LastUpdated string  `json:"last_updated"`
}

type registerTokenPayload struct {
	ChannelKind   string `json:"channel_kind"`
	Token         string `json:"token"`
	ExpoPushToken string `json:"expo_push_token"`
}

type notifyResponsePayload struct {
	Status     string `json:"status"`
	Recipients int    `json:"recipients"`
	EventID    int64  `json:"event_id"`
}

type eventPayload struct {
	ID        int64   `json:"id"`
	UserID    string  `json:"user_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	CreatedAt string  `json:"created_at"`
}

func newEventPayload(event events.EmergencyEvent) eventPayload {
	return eventPayload{
		ID:        event.ID,
		UserID:    event.ReporterUserID,
		Latitude:  event.Latitude,
		Longitude: event.Longitude,
		CreatedAt: formatTimestamp(event.CreatedAt),
	}
}

func formatTimestamp(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func (h *httpHandler) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"service": "localshield", "status": "running"})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), request.UserID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleUpdateLocation(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	latitude, longitude, ok := bindCoordinates(c)
	if !ok {
		return
	}
	if _, err := h.locations.UpdateLocation(c.Request.Context(), userID, latitude, longitude); err != nil {
		h.writeError(c, "location update failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *httpHandler) handleListLocations(c *gin.Context) {
	stored, err := h.locations.ListLocations(c.Request.Context())
	if err != nil {
		h.writeError(c, "location listing failed", err)
		return
	}
	response := make([]locationPayload, 0, len(stored))
	for _, location := range stored {
		response = append(response, locationPayload{
			UserID:      location.UserID,
			Latitude:    location.Latitude,
			Longitude:   location.Longitude,
			LastUpdated: formatTimestamp(location.UpdatedAt),
		})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleRegisterToken(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request registerTokenPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	rawKind, token := request.ChannelKind, request.Token
	if strings.TrimSpace(token) == "" && request.ExpoPushToken != "" {
		token = request.ExpoPushToken
		if strings.TrimSpace(rawKind) == "" {
			rawKind = string(channels.KindCrossPlatformPushToken)
		}
	}
	kind, err := channels.ParseKind(rawKind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_channel_kind"})
		return
	}
	if _, err := h.registry.RegisterToken(c.Request.Context(), userID, kind, token); err != nil {
		h.writeError(c, "token registration failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *httpHandler) handleNotifyNearby(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	latitude, longitude, ok := bindCoordinates(c)
	if !ok {
		return
	}
	report, err := h.emergency.TriggerEmergency(c.Request.Context(), userID, latitude, longitude)
	if err != nil {
		h.writeError(c, "emergency trigger failed", err)
		return
	}
	c.JSON(http.StatusOK, notifyResponsePayload{
		Status:     "sent",
		Recipients: report.SentCount,
		EventID:    report.Event.ID,
	})
}

func (h *httpHandler) handleRecentEmergencies(c *gin.Context) {
	since := h.clock().UTC().Add(-defaultRecentRange)
	if raw, present := c.GetQuery("since"); present {
		parsed, err := parseSince(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_since"})
			return
		}
		since = parsed
	}
	recent, err := h.eventLog.FetchSince(c.Request.Context(), since)
	if err != nil {
		h.writeError(c, "event fetch failed", err)
		return
	}
	response := make([]eventPayload, 0, len(recent))
	for _, event := range recent {
		response = append(response, newEventPayload(event))
	}
	c.JSON(http.StatusOK, response)
}

func bindCoordinates(c *gin.Context) (float64, float64, bool) {
	var request coordinatePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Latitude == nil || request.Longitude == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return 0, 0, false
	}
	return *request.Latitude, *request.Longitude, true
}

type codedError interface {
	Code() string
}

func (h *httpHandler) writeError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, geo.ErrInvalidCoordinate):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_coordinate"})
	case errors.Is(err, channels.ErrInvalidToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_token"})
	case errors.Is(err, channels.ErrInvalidChannelKind):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_channel_kind"})
	case errors.Is(err, locations.ErrInvalidUserID),
		errors.Is(err, channels.ErrInvalidUserID),
		errors.Is(err, emergency.ErrInvalidReporter):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	default:
		body := gin.H{"error": "internal_error"}
		var coded codedError
		if errors.As(err, &coded) {
			body["code"] = coded.Code()
		}
		h.logger.Error(message,
			zap.String("request_id", c.GetString(requestIDContextKey)),
			zap.String("user_id", c.GetString(userIDContextKey)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, body)
	}
}
