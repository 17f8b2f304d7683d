package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/superdialer/internal/dialer"
	"github.com/MarcoPoloResearchLab/superdialer/internal/notes"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	deviceIDContextKey       = "superdialer_device_id"
	accessTokenQueryKey      = "access_token"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingCoordinator   = errors.New("coordinator dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// ViewCoordinator is the coordinator surface the HTTP adapter drives.
type ViewCoordinator interface {
	State() dialer.ViewState
	Subscribe(ctx context.Context) (<-chan dialer.ViewState, func())
	Refresh(ctx context.Context) <-chan struct{}
	Notes(ctx context.Context, number string) ([]notes.Note, error)
	AddNote(ctx context.Context, number, text string) (notes.Note, error)
	UpdateNote(ctx context.Context, id, text string) (notes.Note, bool, error)
	DeleteNote(ctx context.Context, id string) (bool, error)
	Tags(ctx context.Context, number string) ([]notes.Tag, error)
	TagLabels(ctx context.Context) ([]string, error)
	SetTag(ctx context.Context, number, label string) (notes.Tag, error)
	ClearTag(ctx context.Context, number string) error
}

// TokenValidator validates device bearer tokens and returns the device id.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP adapter. Tokens is optional; without it the API is open.
type Dependencies struct {
	Coordinator       ViewCoordinator
	Tokens            TokenValidator
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

// NewHTTPHandler builds the gin router serving the dialer view and annotations.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Coordinator == nil {
		return nil, errMissingCoordinator
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		coordinator:       deps.Coordinator,
		tokens:            deps.Tokens,
		heartbeatInterval: heartbeat,
		logger:            logger,
	}

	protected := router.Group("/")
	if deps.Tokens != nil {
		protected.Use(handler.authorizeRequest)
	}
	protected.GET("/view", handler.handleView)
	protected.POST("/refresh", handler.handleRefresh)
	protected.GET("/events", handler.handleEvents)
	protected.GET("/numbers/:number/history", handler.handleNumberHistory)
	protected.GET("/numbers/:number/notes", handler.handleListNotes)
	protected.POST("/numbers/:number/notes", handler.handleAddNote)
	protected.PUT("/notes/:id", handler.handleUpdateNote)
	protected.DELETE("/notes/:id", handler.handleDeleteNote)
	protected.GET("/numbers/:number/tags", handler.handleListTags)
	protected.PUT("/numbers/:number/tag", handler.handleSetTag)
	protected.DELETE("/numbers/:number/tag", handler.handleClearTag)
	protected.GET("/tags", handler.handleTagLabels)

	return router, nil
}

type httpHandler struct {
	coordinator       ViewCoordinator
	tokens            TokenValidator
	heartbeatInterval time.Duration
	logger            *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
		config.AllowCredentials = true
	}
	return cors.New(config)
}

// authorizeRequest accepts a bearer header, or the access_token query
// parameter for EventSource clients that cannot set headers.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	} else if header == "" {
		token = strings.TrimSpace(c.Query(accessTokenQueryKey))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	deviceID, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(deviceIDContextKey, deviceID)
	c.Next()
}

// respondError maps coordinator and store failures onto JSON error bodies.
func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, dialer.ErrBlankNote):
		c.JSON(http.StatusBadRequest, gin.H{"error": "blank_note"})
	case errors.Is(err, dialer.ErrBlankTag):
		c.JSON(http.StatusBadRequest, gin.H{"error": "blank_tag"})
	case errors.Is(err, notes.ErrInvalidPhoneNumber):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_phone_number"})
	case errors.Is(err, notes.ErrInvalidNoteID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
	default:
		h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
		response := gin.H{"error": operation + "_failed"}
		var storeErr *notes.StoreError
		if errors.As(err, &storeErr) {
			response["code"] = storeErr.Code()
		}
		c.JSON(http.StatusInternalServerError, response)
	}
}
