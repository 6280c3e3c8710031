package handlers

import (
	"context"
	"time"

	"cryostat_controller/internal/control"
	"cryostat_controller/internal/models"
	"cryostat_controller/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockMonitoring struct {
	temp    models.TemperatureStatus
	stab    models.StabilityStatus
	samples []models.SamplePoint
}

func (m *mockMonitoring) Temperature() models.TemperatureStatus { return m.temp }
func (m *mockMonitoring) Stability() models.StabilityStatus     { return m.stab }
func (m *mockMonitoring) Samples() []models.SamplePoint         { return m.samples }

type mockCalibration struct {
	outcomes []control.RangeOutcome
	gain     float64
	err      error

	rangesCalls   int
	gainCalls     int
	lastTolerance float64
	lastSetpoint  float64
}

func (m *mockCalibration) CalibrateRanges(ctx context.Context, tolerance float64) ([]control.RangeOutcome, error) {
	m.rangesCalls++
	m.lastTolerance = tolerance
	return m.outcomes, m.err
}

func (m *mockCalibration) CalibrateGain(ctx context.Context, setpoint, tolerance float64) (float64, error) {
	m.gainCalls++
	m.lastSetpoint = setpoint
	m.lastTolerance = tolerance
	return m.gain, m.err
}

type mockEventLog struct {
	resp     []models.ControlEvent
	err      error
	lastFrom time.Time
	lastTo   time.Time
	lastType string
}

func (m *mockEventLog) List(ctx context.Context, f service.LogFilter) ([]models.ControlEvent, error) {
	m.lastFrom = f.From
	m.lastTo = f.To
	m.lastType = f.Type
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}
