package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Common response/status constants to avoid magic strings and typos.
const (
	statusOK = "ok"

	errListLogs = "failed to load logs"
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// getTemperature returns the latest reading with window statistics.
func (h *Handler) getTemperature(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.Monitoring.Temperature())
}

// getSamples returns the recent timestamped readings for plotting clients.
func (h *Handler) getSamples(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"samples": h.services.Monitoring.Samples()})
}

// getStability returns the detector's current verdict.
func (h *Handler) getStability(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.Monitoring.Stability())
}
