package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marketops/mpimport/internal/db"
	"github.com/marketops/mpimport/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type importRecordRepository struct {
	conn *db.Connection
	pool *pgxpool.Pool
}

// NewImportRecordRepository wires a repository backed by the shared pool.
func NewImportRecordRepository(conn *db.Connection) ImportRecordRepository {
	repo := &importRecordRepository{conn: conn}
	if conn != nil {
		repo.pool = conn.Pool
	}
	return repo
}

// CreateBatch upserts one flush of records atomically. A failure rolls
// the whole batch back so counters never drift from the table.
func (r *importRecordRepository) CreateBatch(ctx context.Context, records []domain.ImportedRecord) (BatchResult, error) {
	var result BatchResult
	if r.pool == nil {
		return result, fmt.Errorf("import record repository not initialized")
	}
	if len(records) == 0 {
		return result, nil
	}

	batch := &pgx.Batch{}
	for _, record := range records {
		properties, err := json.Marshal(record.Properties)
		if err != nil {
			return result, fmt.Errorf("failed to encode record properties: %w", err)
		}
		// xmax = 0 distinguishes a fresh insert from a conflict update.
		batch.Queue(
			`INSERT INTO imported_records (id, session_id, aggregate, external_key, properties)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (aggregate, external_key)
			 DO UPDATE SET session_id = EXCLUDED.session_id, properties = EXCLUDED.properties
			 RETURNING (xmax = 0)`,
			record.ID,
			record.SessionID,
			record.Aggregate,
			record.ExternalKey,
			properties,
		)
	}

	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)
		defer results.Close()

		for range records {
			var inserted bool
			if err := results.QueryRow().Scan(&inserted); err != nil {
				return fmt.Errorf("failed to upsert imported record: %w", err)
			}
			if inserted {
				result.Inserted++
			} else {
				result.Updated++
			}
		}
		return results.Close()
	})
	if err != nil {
		return BatchResult{}, err
	}
	return result, nil
}

func (r *importRecordRepository) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]domain.ImportedRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("import record repository not initialized")
	}
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, session_id, aggregate, external_key, properties, created_at
		 FROM imported_records
		 WHERE session_id = $1
		 ORDER BY created_at
		 LIMIT $2 OFFSET $3`,
		sessionID,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list imported records: %w", err)
	}
	defer rows.Close()

	records := []domain.ImportedRecord{}
	for rows.Next() {
		var (
			record     domain.ImportedRecord
			properties []byte
			createdAt  pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&record.ID,
			&record.SessionID,
			&record.Aggregate,
			&record.ExternalKey,
			&properties,
			&createdAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan imported record: %w", scanErr)
		}
		if len(properties) > 0 {
			if err := json.Unmarshal(properties, &record.Properties); err != nil {
				return nil, fmt.Errorf("failed to decode record properties: %w", err)
			}
		}
		if createdAt.Valid {
			record.CreatedAt = createdAt.Time
		}
		records = append(records, record)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate imported records: %w", rowsErr)
	}
	return records, nil
}

func (r *importRecordRepository) CountByAggregate(ctx context.Context, aggregate string) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("import record repository not initialized")
	}
	var count int64
	err := r.pool.QueryRow(
		ctx,
		`SELECT COUNT(*) FROM imported_records WHERE aggregate = $1`,
		aggregate,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count imported records: %w", err)
	}
	return count, nil
}

func (r *importRecordRepository) DeleteObsolete(ctx context.Context, aggregate, keepSessionID string) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("import record repository not initialized")
	}
	tag, err := r.pool.Exec(
		ctx,
		`DELETE FROM imported_records WHERE aggregate = $1 AND session_id <> $2`,
		aggregate,
		keepSessionID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete obsolete records: %w", err)
	}
	return tag.RowsAffected(), nil
}
