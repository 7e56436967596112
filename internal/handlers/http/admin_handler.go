package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"rendezlink/internal/core/domain"
	"rendezlink/internal/core/ports"
	"rendezlink/internal/core/services"
	"rendezlink/internal/infrastructure/monitoring"
	"rendezlink/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MediatorControl is the part of the mediator the admin API drives.
type MediatorControl interface {
	Restart()
	Sessions() []services.SessionInfo
	Latency() []services.HostLatency
}

// LanScanner runs one LAN discovery scan.
type LanScanner interface {
	Scan(ctx context.Context) ([]domain.DiscoveredPeer, error)
}

// HealthReporter runs the registered dependency checks.
type HealthReporter interface {
	CheckAll(ctx context.Context) monitoring.HealthStatus
}

// Options that may be changed through the admin API.
var writableOptions = map[string]bool{
	domain.OptionStopService:            true,
	domain.OptionDirectServer:           true,
	domain.OptionDirectAccessPort:       true,
	domain.OptionCustomRendezvousServer: true,
	domain.OptionRendezvousServers:      true,
}

type AdminHandler struct {
	mediator MediatorControl
	scanner  LanScanner
	peers    ports.PeerStore
	options  ports.OptionStore
	health   HealthReporter
	gatherer prometheus.Gatherer
	logger   *zap.SugaredLogger

	startTime time.Time
	scanMu    sync.Mutex
}

type AdminDeps struct {
	Mediator MediatorControl
	Scanner  LanScanner
	Peers    ports.PeerStore
	Options  ports.OptionStore
	Health   HealthReporter
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

func NewAdminHandler(deps AdminDeps, logger *zap.SugaredLogger) *AdminHandler {
	return &AdminHandler{
		mediator:  deps.Mediator,
		scanner:   deps.Scanner,
		peers:     deps.Peers,
		options:   deps.Options,
		health:    deps.Health,
		gatherer:  deps.Gatherer,
		logger:    logger,
		startTime: time.Now(),
	}
}

// SetupRoutes registers the admin endpoints. Handler failures are attached
// with c.Error and rendered by middleware.ErrorHandlerMiddleware.
func (h *AdminHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")
	{
		api.GET("/mediator/sessions", h.ListSessions)
		api.GET("/mediator/latency", h.GetLatency)
		api.POST("/mediator/restart", h.RestartMediator)

		api.GET("/lan/peers", h.GetLanPeers)
		api.POST("/lan/discover", h.DiscoverLanPeers)

		api.GET("/options/:key", h.GetOption)
		api.PUT("/options/:key", h.SetOption)
	}
}

func (h *AdminHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startTime).String(),
	})
}

func (h *AdminHandler) Ready(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready", "timestamp": time.Now()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := h.health.CheckAll(ctx)
	if status.Status != "healthy" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not_ready",
			"timestamp": status.Timestamp,
			"checks":    status.Checks,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": status.Timestamp,
		"checks":    status.Checks,
	})
}

func (h *AdminHandler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sessions": h.mediator.Sessions(),
	})
}

func (h *AdminHandler) GetLatency(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"latency": h.mediator.Latency(),
	})
}

func (h *AdminHandler) RestartMediator(c *gin.Context) {
	h.mediator.Restart()
	c.JSON(http.StatusAccepted, gin.H{"status": "restarting"})
}

func (h *AdminHandler) GetLanPeers(c *gin.Context) {
	result, err := h.peers.Load(c.Request.Context())
	if err != nil {
		if errors.Is(err, domain.ErrLanPeersNotStored) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No LAN scan has completed yet"})
			return
		}
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"peers":       result.Peers,
		"modified_at": result.ModifiedAt,
	})
}

// DiscoverLanPeers runs a scan and returns its result. Only one scan runs
// at a time.
func (h *AdminHandler) DiscoverLanPeers(c *gin.Context) {
	if h.scanner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "LAN discovery is disabled"})
		return
	}
	if !h.scanMu.TryLock() {
		c.JSON(http.StatusConflict, gin.H{"error": "A LAN scan is already running"})
		return
	}
	defer h.scanMu.Unlock()

	start := time.Now()
	peers, err := h.scanner.Scan(c.Request.Context())
	if err != nil {
		h.logger.Warnw("lan discovery failed", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"peers":    peers,
		"duration": time.Since(start).String(),
	})
}

func (h *AdminHandler) GetOption(c *gin.Context) {
	key := c.Param("key")

	value, err := h.options.GetOption(c.Request.Context(), key)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"key": key, "value": value})
}

func (h *AdminHandler) SetOption(c *gin.Context) {
	key := c.Param("key")
	if !writableOptions[key] {
		c.JSON(http.StatusForbidden, gin.H{"error": "Option is not writable"})
		return
	}

	var req struct {
		Value string `json:"value" binding:"max=1024"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := validation.ValidateOption(key, req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.options.SetOption(c.Request.Context(), key, req.Value); err != nil {
		c.Error(err)
		return
	}

	h.logger.Infow("option updated", "key", key, "value", req.Value)
	c.JSON(http.StatusOK, gin.H{"key": key, "value": req.Value})
}
