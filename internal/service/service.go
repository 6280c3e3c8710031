package service

import (
	"context"
	"time"

	"cryostat_controller/internal/control"
	"cryostat_controller/internal/instrument"
	"cryostat_controller/internal/logger"
	"cryostat_controller/internal/models"
	"cryostat_controller/internal/repository"
	"cryostat_controller/internal/stability"
	"cryostat_controller/internal/window"
)

// Monitoring exposes the live monitor state: the latest reading with window
// statistics, the detector's stability verdict, and the raw recent samples
// for plotting consumers.
type Monitoring interface {
	Temperature() models.TemperatureStatus
	Stability() models.StabilityStatus
	Samples() []models.SamplePoint
}

// Calibration runs the heater tuning procedures. Only one procedure may run
// at a time.
type Calibration interface {
	CalibrateRanges(ctx context.Context, tolerance float64) ([]control.RangeOutcome, error)
	CalibrateGain(ctx context.Context, setpoint, tolerance float64) (float64, error)
}

// EventLog exposes append-only logs with filtering access.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.ControlEvent, error)
}

// LogFilter narrows an event log query. Zero times and an empty type mean
// "no constraint".
type LogFilter struct {
	From time.Time
	To   time.Time
	Type string
}

// WindowStats is the read side of the statistics window the monitor fills.
type WindowStats interface {
	Len() int
	IsFull() bool
	Mean() (float64, error)
	Std() (float64, error)
	Span() (float64, error)
	Snapshot() []window.Sample
}

//
// Root Service aggregates all sub-services.
//

type Service struct {
	Monitoring
	Calibration
	EventLog
}

// Deps carries everything the sub-services are wired from.
type Deps struct {
	Sensor      string
	Detector    *stability.Detector
	StatsWindow WindowStats
	Controller  *control.Controller
	Heater      instrument.Heater
	WaitTimeout time.Duration
	Repos       *repository.Repository
	Log         *logger.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		Monitoring:  NewMonitoringService(d.Sensor, d.Detector, d.StatsWindow),
		Calibration: NewCalibrationService(d.Controller, d.Heater, d.Detector, d.WaitTimeout, d.Repos.EventRepo, d.Log),
		EventLog:    NewEventLogService(d.Repos.EventRepo),
	}
}
