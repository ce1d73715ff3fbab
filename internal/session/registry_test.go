package session

import (
	"testing"
	"time"

	"github.com/marketops/mpimport/internal/domain"
)

func TestRegistryCreateAndGet(t *testing.T) {
	registry := NewRegistry()
	registry.Create("s1")

	progress, ok := registry.Get("s1")
	if !ok {
		t.Fatalf("expected session to exist")
	}
	if progress.Status != domain.ImportStatusRunning {
		t.Fatalf("new session status = %s, want Running", progress.Status)
	}

	if _, ok := registry.Get("missing"); ok {
		t.Fatalf("unknown session must report ok=false")
	}
}

func TestRegistryRollUpTotals(t *testing.T) {
	registry := NewRegistry()
	registry.Create("s1")
	registry.AddAggregate("s1", "a004_nomenclature", "Номенклатура")
	registry.AddAggregate("s1", "p901_barcodes", "Штрихкоды номенклатуры")

	total := 10
	registry.UpdateAggregate("s1", "a004_nomenclature", 10, &total, 7, 3, 0)
	registry.UpdateAggregate("s1", "p901_barcodes", 4, nil, 4, 0, 0)
	registry.AddRowError("s1", "p901_barcodes")

	progress, _ := registry.Get("s1")
	if progress.TotalProcessed != 14 {
		t.Fatalf("TotalProcessed = %d, want 14", progress.TotalProcessed)
	}
	if progress.TotalInserted != 11 || progress.TotalUpdated != 3 {
		t.Fatalf("inserted/updated = %d/%d, want 11/3", progress.TotalInserted, progress.TotalUpdated)
	}
	if progress.TotalErrors != 1 {
		t.Fatalf("TotalErrors = %d, want 1", progress.TotalErrors)
	}
	if progress.Aggregates[0].Status != domain.AggregateStatusRunning {
		t.Fatalf("aggregate status = %s, want Running", progress.Aggregates[0].Status)
	}
}

func TestRegistryTerminalTransition(t *testing.T) {
	registry := NewRegistry()
	registry.Create("s1")
	registry.AddAggregate("s1", "a004_nomenclature", "Номенклатура")
	registry.CompleteAggregate("s1", "a004_nomenclature")
	registry.Complete("s1", domain.ImportStatusCompleted)

	progress, _ := registry.Get("s1")
	if !progress.Status.Terminal() {
		t.Fatalf("expected terminal status, got %s", progress.Status)
	}
	if progress.CompletedAt == nil {
		t.Fatalf("terminal session must carry a completion timestamp")
	}
	if progress.Aggregates[0].Status != domain.AggregateStatusCompleted {
		t.Fatalf("aggregate status = %s, want Completed", progress.Aggregates[0].Status)
	}
}

func TestRegistryFailAggregateRecordsError(t *testing.T) {
	registry := NewRegistry()
	registry.Create("s1")
	registry.AddAggregate("s1", "a008_sales", "Продажи маркетплейса")
	registry.FailAggregate("s1", "a008_sales", "connection refused")

	progress, _ := registry.Get("s1")
	if progress.Aggregates[0].Status != domain.AggregateStatusFailed {
		t.Fatalf("aggregate status = %s, want Failed", progress.Aggregates[0].Status)
	}
	if len(progress.Errors) != 1 || progress.Errors[0].Message != "connection refused" {
		t.Fatalf("unexpected errors: %+v", progress.Errors)
	}
	if progress.Errors[0].Aggregate == nil || *progress.Errors[0].Aggregate != "a008_sales" {
		t.Fatalf("error must reference the failed aggregate")
	}
}

func TestRegistrySnapshotIsolation(t *testing.T) {
	registry := NewRegistry()
	registry.Create("s1")
	registry.AddAggregate("s1", "a004_nomenclature", "Номенклатура")

	snap, _ := registry.Get("s1")
	snap.Aggregates[0].Processed = 999

	fresh, _ := registry.Get("s1")
	if fresh.Aggregates[0].Processed != 0 {
		t.Fatalf("mutating a snapshot must not affect the registry")
	}
}

func TestRegistryCleanupEvictsOnlyOldTerminalSessions(t *testing.T) {
	registry := NewRegistry()
	registry.Create("old")
	registry.Complete("old", domain.ImportStatusCompleted)
	registry.Create("active")

	// Backdate the completed session past the retention window.
	registry.mu.Lock()
	past := time.Now().UTC().Add(-2 * time.Hour)
	registry.sessions["old"].CompletedAt = &past
	registry.mu.Unlock()

	removed := registry.CleanupOlderThan(time.Hour)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := registry.Get("old"); ok {
		t.Fatalf("expected old session evicted")
	}
	if _, ok := registry.Get("active"); !ok {
		t.Fatalf("active session must survive cleanup")
	}
}
