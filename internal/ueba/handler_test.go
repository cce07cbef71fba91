package ueba

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fleetstack/fleetguard/internal/models"
)

func sampleReport() models.AnomalyReport {
	return models.AnomalyReport{
		ID:         "report-1",
		Entity:     "test_agent",
		Action:     "reboot",
		OccurredAt: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
		Findings: []models.AnomalyFinding{
			{Kind: models.FindingUnauthorized, Severity: models.SeverityCritical, Detail: "not permitted"},
		},
		MaxSeverity: models.SeverityCritical,
	}
}

func TestWebhookHandlerPostsReport(t *testing.T) {
	var received models.AnomalyReport
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode report: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	handler := NewWebhookHandler(server.URL, 2*time.Second)
	if err := handler.HandleAnomaly(context.Background(), sampleReport()); err != nil {
		t.Fatalf("HandleAnomaly returned error: %v", err)
	}
	if received.Entity != "test_agent" || len(received.Findings) != 1 {
		t.Fatalf("unexpected payload: %+v", received)
	}
}

func TestWebhookHandlerRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "sink unavailable", http.StatusInternalServerError)
	}))
	defer server.Close()

	handler := NewWebhookHandler(server.URL, 2*time.Second)
	if err := handler.HandleAnomaly(context.Background(), sampleReport()); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestLogHandlerNeverFails(t *testing.T) {
	handler := NewLogHandler(discardLogger())
	if err := handler.HandleAnomaly(context.Background(), sampleReport()); err != nil {
		t.Fatalf("HandleAnomaly returned error: %v", err)
	}
}
