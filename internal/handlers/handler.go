package handlers

import (
	"cryostat_controller/internal/logger"
	"cryostat_controller/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger) *Handler {
	return &Handler{services: services, log: log}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	// Health and Prometheus endpoints
	router.GET("/health", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Versioned API endpoints
	h.registerAPIRoutes(router)

	// Minimal WebSocket connection (HTTP upgrade) — same port
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		h.registerMonitorRoutes(api)
		h.registerCalibrationRoutes(api)
		h.registerLogRoutes(api)
	}
}

func (h *Handler) registerMonitorRoutes(api *gin.RouterGroup) {
	api.GET("/temperature", h.getTemperature)
	api.GET("/temperature/samples", h.getSamples)
	api.GET("/stability", h.getStability)
}

func (h *Handler) registerCalibrationRoutes(api *gin.RouterGroup) {
	cal := api.Group("/calibration")
	{
		// Body example: {"tolerance_kelvin":0.0001}
		cal.POST("/ranges", h.calibrateRanges)
		// Body example: {"setpoint_kelvin":0.1,"tolerance_kelvin":0.0001}
		cal.POST("/gain", h.calibrateGain)
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("/", h.getLogs)
	}
}
