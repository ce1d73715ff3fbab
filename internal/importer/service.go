package importer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/marketops/mpimport/internal/domain"
	"github.com/marketops/mpimport/internal/repository"
	"github.com/marketops/mpimport/internal/session"

	"github.com/google/uuid"
)

// ErrNotCancellable is returned when cancel targets an unknown or
// already terminal session.
var ErrNotCancellable = errors.New("import session is not cancellable")

// Service starts import sessions and runs them in background workers.
type Service struct {
	registry *session.Registry
	records  repository.ImportRecordRepository
	logs     repository.ImportLogRepository
	resolver SourceResolver

	jobTimeout time.Duration
	batchSize  int

	workerCancels sync.Map // map[string]context.CancelFunc
}

type Option func(*Service)

// WithJobTimeout bounds the wall-clock time of one import session.
func WithJobTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.jobTimeout = timeout
		}
	}
}

// WithBatchSize sets how many rows are flushed per repository batch.
func WithBatchSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// NewService creates an import service.
func NewService(
	registry *session.Registry,
	records repository.ImportRecordRepository,
	logs repository.ImportLogRepository,
	resolver SourceResolver,
	opts ...Option,
) *Service {
	service := &Service{
		registry:   registry,
		records:    records,
		logs:       logs,
		resolver:   resolver,
		jobTimeout: 30 * time.Minute,
		batchSize:  500,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Start validates the request, creates a session, and launches the import
// worker. The returned response carries the session id to poll.
func (s *Service) Start(ctx context.Context, req domain.ImportRequest) (domain.ImportResponse, error) {
	if err := req.Validate(); err != nil {
		return domain.ImportResponse{Status: domain.StartStatusFailed, Message: err.Error()}, err
	}

	sessionID := uuid.New().String()
	s.registry.Create(sessionID)
	for _, target := range req.TargetAggregates {
		s.registry.AddAggregate(sessionID, target, aggregateTitle(target))
	}

	s.launchWorker(sessionID, req)

	return domain.ImportResponse{
		SessionID: sessionID,
		Status:    domain.StartStatusStarted,
		Message:   fmt.Sprintf("import started for %d aggregates", len(req.TargetAggregates)),
	}, nil
}

// Progress returns the session snapshot, ok=false for unknown sessions.
func (s *Service) Progress(sessionID string) (domain.ImportProgress, bool) {
	return s.registry.Get(sessionID)
}

// Cancel stops a running session's worker.
func (s *Service) Cancel(sessionID string) error {
	progress, ok := s.registry.Get(sessionID)
	if !ok || progress.Status.Terminal() {
		return ErrNotCancellable
	}
	if cancel, ok := s.workerCancels.LoadAndDelete(sessionID); ok {
		if fn, okCast := cancel.(context.CancelFunc); okCast {
			fn()
		}
	}
	return nil
}

func (s *Service) launchWorker(sessionID string, req domain.ImportRequest) {
	baseCtx, cancel := context.WithCancel(context.Background())
	ctx := baseCtx
	cancelFunc := cancel
	if s.jobTimeout > 0 {
		timeoutCtx, timeoutCancel := context.WithTimeout(baseCtx, s.jobTimeout)
		ctx = timeoutCtx
		cancelFunc = func() {
			timeoutCancel()
			cancel()
		}
	}
	s.workerCancels.Store(sessionID, cancelFunc)
	go func() {
		defer func() {
			cancelFunc()
			s.workerCancels.Delete(sessionID)
		}()
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[import] panic in session %s: %v", sessionID, rec)
				s.registry.AddError(sessionID, nil, fmt.Sprintf("panic: %v", rec), nil)
				s.registry.Complete(sessionID, domain.ImportStatusFailed)
			}
		}()
		s.runImport(ctx, sessionID, req)
	}()
}

func (s *Service) runImport(ctx context.Context, sessionID string, req domain.ImportRequest) {
	hadErrors := false

	for _, target := range req.TargetAggregates {
		if ctx.Err() != nil {
			s.registry.Complete(sessionID, domain.ImportStatusCancelled)
			log.Printf("[import] session %s cancelled", sessionID)
			return
		}
		if err := s.runAggregate(ctx, sessionID, req, target); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				s.registry.Complete(sessionID, domain.ImportStatusCancelled)
				log.Printf("[import] session %s cancelled during %s", sessionID, target)
				return
			}
			s.registry.FailAggregate(sessionID, target, truncateError(err))
			hadErrors = true
		}
	}

	progress, ok := s.registry.Get(sessionID)
	if !ok {
		return
	}
	status := domain.ImportStatusCompleted
	if hadErrors || progress.TotalErrors > 0 {
		status = domain.ImportStatusCompletedWithErrors
	}
	if allAggregatesFailed(progress) {
		status = domain.ImportStatusFailed
	}
	s.registry.Complete(sessionID, status)
	log.Printf("[import] session %s finished: %s (processed=%d inserted=%d updated=%d errors=%d)",
		sessionID, status, progress.TotalProcessed, progress.TotalInserted, progress.TotalUpdated, progress.TotalErrors)
}

func (s *Service) runAggregate(ctx context.Context, sessionID string, req domain.ImportRequest, target string) error {
	source, err := s.resolver.Open(ctx, req, target)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = source.Close() }()

	var (
		batch     []domain.ImportedRecord
		processed int
		inserted  int
		updated   int
		skipped   int
	)
	total := source.Total()

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		result, err := s.records.CreateBatch(ctx, batch)
		if err != nil {
			return fmt.Errorf("flush batch: %w", err)
		}
		inserted += result.Inserted
		updated += result.Updated
		batch = batch[:0]
		s.registry.UpdateAggregate(sessionID, target, processed, total, inserted, updated, skipped)
		return nil
	}

	rowNumber := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, ok, err := source.Next(ctx)
		if err != nil {
			return fmt.Errorf("read source row: %w", err)
		}
		if !ok {
			break
		}
		rowNumber++
		processed++

		if row.ExternalKey == "" {
			skipped++
			s.registry.AddRowError(sessionID, target)
			s.recordRowError(ctx, sessionID, target, rowNumber, errors.New("missing external key"))
			continue
		}

		if row.Label != "" {
			label := row.Label
			s.registry.SetCurrentItem(sessionID, target, &label)
		}

		batch = append(batch, domain.ImportedRecord{
			ID:          uuid.New(),
			SessionID:   sessionID,
			Aggregate:   target,
			ExternalKey: row.ExternalKey,
			Properties:  row.Properties,
		})
		if len(batch) >= s.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	if err := flush(); err != nil {
		return err
	}
	s.registry.UpdateAggregate(sessionID, target, processed, total, inserted, updated, skipped)

	var deleted int64
	if req.DeleteObsolete {
		deleted, err = s.records.DeleteObsolete(ctx, target, sessionID)
		if err != nil {
			return fmt.Errorf("delete obsolete records: %w", err)
		}
	}
	if count, countErr := s.records.CountByAggregate(ctx, target); countErr == nil {
		info := fmt.Sprintf("%d records in store", count)
		if deleted > 0 {
			info = fmt.Sprintf("%d records in store, %d obsolete deleted", count, deleted)
		}
		s.registry.SetAggregateInfo(sessionID, target, info)
	}

	s.registry.CompleteAggregate(sessionID, target)
	return nil
}

func (s *Service) recordRowError(ctx context.Context, sessionID, target string, rowNumber int, err error) {
	if s.logs == nil || err == nil {
		return
	}
	entry := domain.ImportLogEntry{
		SessionID: sessionID,
		Aggregate: target,
		RowNumber: &rowNumber,
		Message:   err.Error(),
	}
	if logErr := s.logs.Record(ctx, entry); logErr != nil {
		log.Printf("[import] failed to record row error for session %s: %v", sessionID, logErr)
	}
}

func allAggregatesFailed(p domain.ImportProgress) bool {
	if len(p.Aggregates) == 0 {
		return false
	}
	for _, agg := range p.Aggregates {
		if agg.Status != domain.AggregateStatusFailed {
			return false
		}
	}
	return true
}

func aggregateTitle(index string) string {
	if agg, ok := Catalog[index]; ok {
		return agg.Title
	}
	return index
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	const maxLen = 512
	msg := err.Error()
	if len(msg) <= maxLen {
		return msg
	}
	// Back up to a rune boundary so the cut never splits a UTF-8 sequence.
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
