package repository

import (
	"context"
	"database/sql"
	"time"

	"cryostat_controller/internal/models"
)

// EventRepo is the operational audit log: stability transitions, overtemp
// alerts, heater actions and calibration outcomes.
type EventRepo interface {
	Append(ctx context.Context, e models.ControlEvent) error
	List(ctx context.Context, from, to time.Time, typ string) ([]models.ControlEvent, error)
}

type Repository struct {
	EventRepo EventRepo
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		EventRepo: NewEventSQLite(db),
	}
}
