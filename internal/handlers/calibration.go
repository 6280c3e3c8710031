package handlers

import (
	"errors"
	"net/http"

	"cryostat_controller/internal/control"
	"cryostat_controller/internal/service"
	"cryostat_controller/internal/stability"

	"github.com/gin-gonic/gin"
)

const (
	errCalibrateRanges = "range calibration failed"
	errCalibrateGain   = "gain calibration failed"
	errToleranceReq    = "tolerance_kelvin must be > 0"
	errSetpointReq     = "setpoint_kelvin must be > 0"
)

// Request DTO for the range sweep.
type rangesRequest struct {
	ToleranceKelvin float64 `json:"tolerance_kelvin" binding:"required"`
}

// Request DTO for the gain search.
type gainRequest struct {
	SetpointKelvin  float64 `json:"setpoint_kelvin" binding:"required"`
	ToleranceKelvin float64 `json:"tolerance_kelvin" binding:"required"`
}

func (h *Handler) bindJSONOrBadRequest(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return false
	}
	return true
}

func (h *Handler) calibrateRanges(c *gin.Context) {
	var req rangesRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	if req.ToleranceKelvin <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": errToleranceReq})
		return
	}

	outcomes, err := h.services.Calibration.CalibrateRanges(c.Request.Context(), req.ToleranceKelvin)
	if err != nil {
		h.calibrationError(c, err, errCalibrateRanges, "calibrate_ranges_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   statusOK,
		"outcomes": outcomes,
	})
}

func (h *Handler) calibrateGain(c *gin.Context) {
	var req gainRequest
	if !h.bindJSONOrBadRequest(c, &req) {
		return
	}
	if req.SetpointKelvin <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": errSetpointReq})
		return
	}
	if req.ToleranceKelvin <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": errToleranceReq})
		return
	}

	gain, err := h.services.Calibration.CalibrateGain(c.Request.Context(), req.SetpointKelvin, req.ToleranceKelvin)
	if err != nil {
		h.calibrationError(c, err, errCalibrateGain, "calibrate_gain_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
		"gain":   gain,
	})
}

// calibrationError maps calibration failures onto HTTP codes: concurrent
// runs conflict, a stability wait that ran out of time is a gateway timeout,
// everything else is internal.
func (h *Handler) calibrationError(c *gin.Context, err error, userMsg, logKey string) {
	switch {
	case errors.Is(err, service.ErrCalibrationBusy), errors.Is(err, control.ErrSessionActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, stability.ErrStabilityTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	default:
		h.logAndJSONError(c, http.StatusInternalServerError, userMsg, logKey, err)
	}
}
