package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"cryostat_controller/internal/control"
	"cryostat_controller/internal/instrument"
	"cryostat_controller/internal/logger"
	"cryostat_controller/internal/metrics"
	"cryostat_controller/internal/models"
	"cryostat_controller/internal/repository"
)

// ErrCalibrationBusy is returned when a calibration procedure is already
// running. The procedures hold the scanner pinned to one channel, so they
// cannot overlap.
var ErrCalibrationBusy = errors.New("calibration already in progress")

// procedureRunner is what one calibration run needs from the calibrator.
type procedureRunner interface {
	CalibrateRanges(ctx context.Context, tolerance float64) ([]control.RangeOutcome, error)
	CalibrateP(ctx context.Context, setpoint, tolerance float64) (float64, error)
}

type CalibrationService struct {
	controller *control.Controller
	eventRepo  repository.EventRepo
	log        *logger.Logger

	// newRunner builds the calibrator for one run; tests swap it out.
	newRunner func() procedureRunner

	mu sync.Mutex // held for the duration of one procedure
}

func NewCalibrationService(controller *control.Controller, heater instrument.Heater,
	waiter control.StabilityWaiter, waitTimeout time.Duration,
	eventRepo repository.EventRepo, log *logger.Logger) *CalibrationService {

	log = log.Named("calibration")
	return &CalibrationService{
		controller: controller,
		eventRepo:  eventRepo,
		log:        log,
		newRunner: func() procedureRunner {
			return control.NewCalibrator(controller, heater, waiter, waitTimeout, log)
		},
	}
}

// CalibrateRanges sweeps the heater output ranges and reports which ones the
// system stabilized on. The outcome is recorded in the event log even when
// the sweep aborts.
func (s *CalibrationService) CalibrateRanges(ctx context.Context, tolerance float64) ([]control.RangeOutcome, error) {
	if !s.mu.TryLock() {
		return nil, ErrCalibrationBusy
	}
	defer s.mu.Unlock()

	var outcomes []control.RangeOutcome
	err := s.withSession(ctx, func(cal procedureRunner) error {
		var err error
		outcomes, err = cal.CalibrateRanges(ctx, tolerance)
		return err
	})

	meta := map[string]any{"tolerance_kelvin": tolerance, "outcomes": outcomes}
	if err != nil {
		meta["error"] = err.Error()
	}
	metrics.CalibrationRuns.WithLabelValues("ranges", outcomeLabel(err)).Inc()
	s.appendEvent(ctx, "range sweep finished", meta)
	return outcomes, err
}

// CalibrateGain searches for the proportional gain that stabilizes the
// system on the given setpoint and commits the derated result.
func (s *CalibrationService) CalibrateGain(ctx context.Context, setpoint, tolerance float64) (float64, error) {
	if !s.mu.TryLock() {
		return 0, ErrCalibrationBusy
	}
	defer s.mu.Unlock()

	var gain float64
	err := s.withSession(ctx, func(cal procedureRunner) error {
		var err error
		gain, err = cal.CalibrateP(ctx, setpoint, tolerance)
		return err
	})

	meta := map[string]any{"setpoint_kelvin": setpoint, "tolerance_kelvin": tolerance}
	if err != nil {
		meta["error"] = err.Error()
	} else {
		meta["gain"] = gain
	}
	metrics.CalibrationRuns.WithLabelValues("gain", outcomeLabel(err)).Inc()
	s.appendEvent(ctx, "gain search finished", meta)
	return gain, err
}

// withSession pins the scanner for the duration of one procedure and always
// restores it afterwards, even when ctx was cancelled mid-run.
func (s *CalibrationService) withSession(ctx context.Context, run func(procedureRunner) error) error {
	sess, err := s.controller.OpenSession(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(ctx); cerr != nil {
			s.log.Errorw("restore scanner state", "error", cerr)
		}
	}()

	return run(s.newRunner())
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (s *CalibrationService) appendEvent(ctx context.Context, desc string, meta map[string]any) {
	err := s.eventRepo.Append(context.WithoutCancel(ctx), models.ControlEvent{
		Type:        models.EventCalibration,
		Description: desc,
		Metadata:    meta,
	})
	if err != nil {
		s.log.Errorw("append calibration event", "error", err)
	}
}
