package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"lumo/internal/apperr"
	"lumo/internal/model"
	"lumo/internal/service"
)

type Options struct {
	RequestTimeout time.Duration
	CORSOrigins    []string
	Release        bool
}

type Handler struct {
	svc service.CheckInService
}

func NewHandler(svc service.CheckInService) *Handler {
	return &Handler{svc: svc}
}

// NewRouter builds the gin engine serving the public API.
func NewRouter(svc service.CheckInService, authn Authenticator, opts Options) *gin.Engine {
	if opts.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), accessLog(), corsMiddleware(opts.CORSOrigins))

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, failure("Method not allowed"))
	})
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, failure("Not found"))
	})

	h := NewHandler(svc)
	h.Register(r, authn, opts.RequestTimeout)
	return r
}

func (h *Handler) Register(r *gin.Engine, authn Authenticator, timeout time.Duration) {
	r.GET("/health", requestTimeout(timeout), h.Health)

	v1 := r.Group("/v1", requestTimeout(timeout))
	v1.OPTIONS("/checkin", h.Preflight)
	v1.POST("/checkin", requireUser(authn), h.CheckIn)
	v1.GET("/wallet", requireUser(authn), h.Wallet)
}

func (h *Handler) Health(c *gin.Context) {
	if err := h.svc.Ping(c.Request.Context()); err != nil {
		slog.Error("http: health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Preflight answers OPTIONS requests that carry no Origin; cross-origin
// preflights are answered by the CORS middleware.
func (h *Handler) Preflight(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
	c.Status(http.StatusOK)
}

func (h *Handler) CheckIn(c *gin.Context) {
	var req model.CheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Info("http: malformed checkin body", "error", err)
		c.JSON(http.StatusBadRequest, failure("Invalid request body"))
		return
	}

	res, err := h.svc.CheckIn(c.Request.Context(), userID(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, composeSuccess(res))
}

func (h *Handler) Wallet(c *gin.Context) {
	balance, err := h.svc.Balance(c.Request.Context(), userID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, walletResponse{Success: true, Message: "Wallet balance", Balance: balance})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status, resp := composeError(err)
	if status >= http.StatusInternalServerError {
		var e *apperr.Error
		if errors.As(err, &e) && e.Err != nil {
			slog.Error("http: request failed", "kind", e.Kind, "user_id", userID(c), "error", e.Err)
		} else {
			slog.Error("http: request failed", "user_id", userID(c), "error", err)
		}
	}
	c.JSON(status, resp)
}
