package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lumenworks/taskpilot/backend/internal/auth"
	"github.com/lumenworks/taskpilot/backend/internal/scope"
	syncpkg "github.com/lumenworks/taskpilot/backend/internal/sync"
	"github.com/lumenworks/taskpilot/backend/internal/tabs"
	"github.com/lumenworks/taskpilot/backend/internal/tasks"
	"github.com/lumenworks/taskpilot/backend/internal/users"
	"go.uber.org/zap"
)

const userIDContextKey = "taskpilot_user_id"

var (
	errMissingGoogleVerifier = errors.New("google verifier dependency required")
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingUserService    = errors.New("user service dependency required")
	errMissingTabStore       = errors.New("tab store dependency required")
	errMissingTaskStore      = errors.New("task store dependency required")
	errMissingSyncEngine     = errors.New("sync engine dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// GoogleVerifier verifies externally issued Google ID tokens.
type GoogleVerifier interface {
	Verify(ctx context.Context, token string) (auth.GoogleClaims, error)
}

// SessionTokenManager issues and validates backend session tokens.
type SessionTokenManager interface {
	IssueSessionToken(ctx context.Context, userID int64) (string, int64, error)
	ValidateToken(token string) (int64, error)
}

// Dependencies wires the HTTP layer to its collaborators.
type Dependencies struct {
	GoogleVerifier GoogleVerifier
	TokenManager   SessionTokenManager
	Users          *users.Service
	Tabs           *tabs.Store
	Tasks          *tasks.Store
	Sync           *syncpkg.Engine
	Dispatcher     *RealtimeDispatcher
	Logger         *zap.Logger
	AllowedOrigins []string
}

// NewHTTPHandler assembles the gin router with all routes and middleware.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.GoogleVerifier == nil {
		return nil, errMissingGoogleVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUserService
	}
	if deps.Tabs == nil {
		return nil, errMissingTabStore
	}
	if deps.Tasks == nil {
		return nil, errMissingTaskStore
	}
	if deps.Sync == nil {
		return nil, errMissingSyncEngine
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = NewRealtimeDispatcher()
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier:   deps.GoogleVerifier,
		tokens:     deps.TokenManager,
		users:      deps.Users,
		tabs:       deps.Tabs,
		tasks:      deps.Tasks,
		sync:       deps.Sync,
		dispatcher: dispatcher,
		logger:     logger,
	}

	router.GET("/", handler.handleRoot)
	router.GET("/health", handler.handleHealth)
	router.POST("/auth/google", handler.handleGoogleAuth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/auth/me", handler.handleMe)

	protected.GET("/tabs", handler.handleListTabs)
	protected.POST("/tabs", handler.handleCreateTab)
	protected.PUT("/tabs/:id", handler.handleUpdateTab)
	protected.DELETE("/tabs/:id", handler.handleDeleteTab)

	protected.GET("/tasks/today", handler.handleTodayTasks)
	protected.GET("/tasks/all", handler.handleAllTasks)
	protected.GET("/tasks/tab/:id", handler.handleTasksByTab)
	protected.POST("/tasks", handler.handleCreateTask)
	protected.PUT("/tasks/:id", handler.handleUpdateTask)
	protected.PUT("/tasks/:id/complete", handler.handleCompleteTask)
	protected.PUT("/tasks/:id/move", handler.handleMoveTask)
	protected.DELETE("/tasks/:id", handler.handleDeleteTask)

	protected.POST("/sync/pull", handler.handleSyncPull)
	protected.POST("/sync/push", handler.handleSyncPush)
	protected.POST("/sync/batch-push", handler.handleSyncBatchPush)
	protected.POST("/sync/resolve", handler.handleSyncResolve)
	protected.GET("/sync/events", handler.handleSyncEvents)

	return router, nil
}

type httpHandler struct {
	verifier   GoogleVerifier
	tokens     SessionTokenManager
	users      *users.Service
	tabs       *tabs.Store
	tasks      *tasks.Store
	sync       *syncpkg.Engine
	dispatcher *RealtimeDispatcher
	logger     *zap.Logger
}

func (h *httpHandler) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "TaskPilot API",
		"status":  "running",
		"version": "1.0.0",
	})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	userID, err := h.tokens.ValidateToken(token)
	if err != nil {
		// Expired tokens are routine client behavior, not an anomaly.
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

// requestScope builds the ownership scope for the authenticated user. A
// missing or invalid context value aborts with 401.
func (h *httpHandler) requestScope(c *gin.Context) (scope.Scope, bool) {
	userID := c.GetInt64(userIDContextKey)
	sc, err := scope.ForUser(userID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return scope.Scope{}, false
	}
	return sc, true
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
		return 0, false
	}
	return id, true
}

// respondError maps domain errors onto the HTTP taxonomy. Ownership
// failures surface as not found, validation failures as 400 with the
// specific condition, everything unexpected as 500.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tabs.ErrTabNotFound),
		errors.Is(err, tasks.ErrTaskNotFound),
		errors.Is(err, syncpkg.ErrEntityNotFound),
		errors.Is(err, users.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, tasks.ErrMaxDepthExceeded):
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_depth_exceeded", "detail": "maximum depth is 3 levels"})
	case errors.Is(err, tasks.ErrInvalidTitle),
		errors.Is(err, tasks.ErrInvalidClientID),
		errors.Is(err, tabs.ErrInvalidTabName),
		errors.Is(err, tabs.ErrInvalidClientID),
		errors.Is(err, syncpkg.ErrInvalidEntityType),
		errors.Is(err, syncpkg.ErrInvalidResolution),
		errors.Is(err, syncpkg.ErrInvalidClientID),
		errors.Is(err, syncpkg.ErrInvalidTimestamp),
		errors.Is(err, syncpkg.ErrMissingClientData):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "detail": err.Error()})
	default:
		h.logger.Error("request failed", zap.Error(err))
		var engineErr *syncpkg.EngineError
		if errors.As(err, &engineErr) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "code": engineErr.Code()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

// publishChange notifies the user's other connected devices that entities
// changed so they can pull.
func (h *httpHandler) publishChange(userID int64, entityType string, clientIDs ...string) {
	h.dispatcher.Publish(RealtimeMessage{
		UserID:     userID,
		EventType:  RealtimeEventEntityChanged,
		EntityType: entityType,
		ClientIDs:  clientIDs,
		Timestamp:  time.Now().UTC(),
	})
}
