package repository

import (
	"context"

	"github.com/marketops/mpimport/internal/domain"
)

// BatchResult reports how an upserted batch landed.
type BatchResult struct {
	Inserted int
	Updated  int
}

// ImportRecordRepository persists rows landed by import sessions.
type ImportRecordRepository interface {
	CreateBatch(ctx context.Context, records []domain.ImportedRecord) (BatchResult, error)
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]domain.ImportedRecord, error)
	CountByAggregate(ctx context.Context, aggregate string) (int64, error)
	// DeleteObsolete removes records of an aggregate that were not written
	// by the given session. Used by delete_obsolete imports.
	DeleteObsolete(ctx context.Context, aggregate, keepSessionID string) (int64, error)
}

// ImportLogRepository stores row-level import errors for observability.
type ImportLogRepository interface {
	Record(ctx context.Context, entry domain.ImportLogEntry) error
	List(ctx context.Context, sessionID string, limit, offset int) ([]domain.ImportLogEntry, error)
}
