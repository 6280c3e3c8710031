package telemetry

import (
	"sync"

	"cryostat_controller/internal/models"
)

// FakePublisher records published snapshots for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// Temperatures contains all published readings.
	Temperatures []models.TemperatureStatus

	// Stabilities contains all published verdicts.
	Stabilities []models.StabilityStatus

	// PublishError, if set, is returned by both publish methods.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishTemperature records the reading.
func (f *FakePublisher) PublishTemperature(st models.TemperatureStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Temperatures = append(f.Temperatures, st)
	return nil
}

// PublishStability records the verdict.
func (f *FakePublisher) PublishStability(st models.StabilityStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Stabilities = append(f.Stabilities, st)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Snapshot returns copies of the recorded messages.
func (f *FakePublisher) Snapshot() ([]models.TemperatureStatus, []models.StabilityStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	temps := append([]models.TemperatureStatus(nil), f.Temperatures...)
	stabs := append([]models.StabilityStatus(nil), f.Stabilities...)
	return temps, stabs
}
