package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/localshield/internal/channels"
	"github.com/MarcoPoloResearchLab/localshield/internal/emergency"
	"github.com/MarcoPoloResearchLab/localshield/internal/events"
	"github.com/MarcoPoloResearchLab/localshield/internal/locations"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	userIDContextKey   = "localshield_user_id"
	accessTokenQuery   = "access_token"
	defaultRecentRange = 24 * time.Hour
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingLocations     = errors.New("location store dependency required")
	errMissingRegistry      = errors.New("channel registry dependency required")
	errMissingEventLog      = errors.New("event log dependency required")
	errMissingEmergency     = errors.New("emergency service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager mints and validates bearer tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	TokenManager  TokenManager
	Locations     locations.Store
	Registry      channels.Registry
	EventLog      events.Log
	Emergency     *emergency.Service
	Realtime      *RealtimeDispatcher
	EmergencyRate string
	DevIssuer     bool
	Gatherer      prometheus.Gatherer
	Clock         func() time.Time
	Logger        *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.TokenManager == nil:
		return nil, errMissingTokenManager
	case deps.Locations == nil:
		return nil, errMissingLocations
	case deps.Registry == nil:
		return nil, errMissingRegistry
	case deps.EventLog == nil:
		return nil, errMissingEventLog
	case deps.Emergency == nil:
		return nil, errMissingEmergency
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	emergencyLimit, err := newEmergencyRateLimit(deps.EmergencyRate)
	if err != nil {
		return nil, err
	}

	handler := &httpHandler{
		tokens:    deps.TokenManager,
		locations: deps.Locations,
		registry:  deps.Registry,
		eventLog:  deps.EventLog,
		emergency: deps.Emergency,
		realtime:  realtime,
		clock:     clock,
		logger:    logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())

	router.GET("/", handler.handleRoot)
	router.GET("/health", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	if deps.DevIssuer {
		router.POST("/auth/token", handler.handleIssueToken)
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/location/update", handler.handleUpdateLocation)
	protected.GET("/location/all", handler.handleListLocations)
	protected.POST("/location/register_token", handler.handleRegisterToken)
	protected.POST("/emergency/notify_nearby", emergencyLimit, handler.handleNotifyNearby)
	protected.GET("/emergency/recent", handler.handleRecentEmergencies)
	protected.GET("/emergency/ws", handler.handleEmergencyStream)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	})
}

type httpHandler struct {
	tokens    TokenManager
	locations locations.Store
	registry  channels.Registry
	eventLog  events.Log
	emergency *emergency.Service
	realtime  *RealtimeDispatcher
	clock     func() time.Time
	logger    *zap.Logger
}

// authorizeRequest resolves the caller identity from the bearer header, or from the
// access_token query parameter on the websocket route where browsers cannot set headers.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		return token, token != ""
	}
	if header == "" && c.Request.URL.Path == "/emergency/ws" {
		token := strings.TrimSpace(c.Query(accessTokenQuery))
		return token, token != ""
	}
	return "", false
}
