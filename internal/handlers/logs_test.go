package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cryostat_controller/internal/models"
	"cryostat_controller/internal/service"
)

func TestLogsHandler_ListAndValidation(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	events := []models.ControlEvent{
		{EventID: "e1", OccurredAt: now, Type: models.EventStability, Description: "stable"},
		{EventID: "e2", OccurredAt: now.Add(1 * time.Second), Type: models.EventCalibration, Description: "sweep"},
	}
	logs := &mockEventLog{resp: events}
	s := &service.Service{
		Monitoring: &mockMonitoring{},
		EventLog:   logs,
	}
	r := newTestRouter(s)

	// Missing/invalid 'from' → 400
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs/?from=notatime", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 invalid 'from', got %d", w.Code)
	}

	// 'from' after 'to' → 400
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet,
		"/api/v1/logs/?from=2026-08-02&to=2026-08-01", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 inverted range, got %d", w.Code)
	}

	// Valid range and type (lowercase type should be normalized to upper in service call)
	w = httptest.NewRecorder()
	q := "/api/v1/logs/?from=" + now.Format(time.RFC3339) + "&to=" + now.Add(2*time.Second).Format(time.RFC3339) + "&type=calibration"
	req = httptest.NewRequest(http.MethodGet, q, nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("logs status=%d, body=%s", w.Code, w.Body.String())
	}
	var out struct {
		Count  int                   `json:"count"`
		Events []models.ControlEvent `json:"events"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out.Count != 2 || len(out.Events) != 2 {
		t.Fatalf("unexpected response: %+v", out)
	}
	if logs.lastType != models.EventCalibration {
		t.Fatalf("expected lastType CALIBRATION, got %q", logs.lastType)
	}
}

func TestLogsHandler_DateOnlyToIsEndOfDay(t *testing.T) {
	logs := &mockEventLog{}
	s := &service.Service{Monitoring: &mockMonitoring{}, EventLog: logs}
	r := newTestRouter(s)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs/?to=2026-08-20", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%s", w.Code, w.Body.String())
	}

	endOfDay := time.Date(2026, 8, 20, 23, 59, 59, 999999999, time.UTC)
	if !logs.lastTo.Equal(endOfDay) {
		t.Fatalf("date-only 'to' should be end of day: got %v", logs.lastTo)
	}
}
