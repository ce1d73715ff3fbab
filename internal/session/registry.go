package session

import (
	"sync"
	"time"

	"github.com/marketops/mpimport/internal/domain"
)

// Registry holds live import sessions for real-time progress polling.
// Completed sessions linger until cleanup so late polls still resolve;
// a session evicted here is what clients observe as a 404.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*domain.ImportProgress
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*domain.ImportProgress)}
}

// Create registers a new running session.
func (r *Registry) Create(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	progress := domain.NewImportProgress(sessionID)
	r.sessions[sessionID] = &progress
}

// Get returns a snapshot of the session, or ok=false when unknown.
func (r *Registry) Get(sessionID string) (domain.ImportProgress, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	progress, ok := r.sessions[sessionID]
	if !ok {
		return domain.ImportProgress{}, false
	}
	return snapshot(progress), true
}

// AddAggregate registers a target aggregate for tracking.
func (r *Registry) AddAggregate(sessionID, index, name string) {
	r.mutate(sessionID, func(p *domain.ImportProgress) {
		p.Aggregates = append(p.Aggregates, domain.AggregateProgress{
			Index:  index,
			Name:   name,
			Status: domain.AggregateStatusPending,
		})
	})
}

// UpdateAggregate records counters for one aggregate and refreshes the
// session roll-up totals.
func (r *Registry) UpdateAggregate(sessionID, index string, processed int, total *int, inserted, updated, skipped int) {
	r.mutate(sessionID, func(p *domain.ImportProgress) {
		agg := findAggregate(p, index)
		if agg == nil {
			return
		}
		agg.Status = domain.AggregateStatusRunning
		agg.Processed = processed
		agg.Total = total
		agg.Inserted = inserted
		agg.Updated = updated
		agg.Skipped = skipped
		rollUp(p)
	})
}

// SetCurrentItem labels the element an aggregate is currently processing.
func (r *Registry) SetCurrentItem(sessionID, index string, label *string) {
	r.mutate(sessionID, func(p *domain.ImportProgress) {
		if agg := findAggregate(p, index); agg != nil {
			agg.CurrentItem = label
		}
	})
}

// AddRowError counts one bad row against an aggregate.
func (r *Registry) AddRowError(sessionID, index string) {
	r.mutate(sessionID, func(p *domain.ImportProgress) {
		if agg := findAggregate(p, index); agg != nil {
			agg.Errors++
			rollUp(p)
		}
	})
}

// SetAggregateInfo attaches a free-form note to one aggregate, such as
// a post-import cleanup summary.
func (r *Registry) SetAggregateInfo(sessionID, index, info string) {
	r.mutate(sessionID, func(p *domain.ImportProgress) {
		if agg := findAggregate(p, index); agg != nil {
			agg.Info = &info
		}
	})
}

// CompleteAggregate marks one aggregate as finished.
func (r *Registry) CompleteAggregate(sessionID, index string) {
	r.mutate(sessionID, func(p *domain.ImportProgress) {
		if agg := findAggregate(p, index); agg != nil {
			agg.Status = domain.AggregateStatusCompleted
			agg.CurrentItem = nil
		}
	})
}

// FailAggregate marks one aggregate as failed and records the error.
func (r *Registry) FailAggregate(sessionID, index, message string) {
	r.mutate(sessionID, func(p *domain.ImportProgress) {
		if agg := findAggregate(p, index); agg != nil {
			agg.Status = domain.AggregateStatusFailed
			agg.Errors++
		}
		aggregate := index
		p.Errors = append(p.Errors, domain.ImportError{Aggregate: &aggregate, Message: message})
		rollUp(p)
	})
}

// AddError records a session-level error.
func (r *Registry) AddError(sessionID string, aggregate *string, message string, details *string) {
	r.mutate(sessionID, func(p *domain.ImportProgress) {
		p.Errors = append(p.Errors, domain.ImportError{Aggregate: aggregate, Message: message, Details: details})
	})
}

// Complete moves the session to a terminal status.
func (r *Registry) Complete(sessionID string, status domain.ImportStatus) {
	r.mutate(sessionID, func(p *domain.ImportProgress) {
		now := time.Now().UTC()
		p.Status = status
		p.CompletedAt = &now
	})
}

// CleanupOlderThan evicts completed sessions whose terminal timestamp is
// older than maxAge. Active sessions are never evicted.
func (r *Registry) CleanupOlderThan(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0
	for id, progress := range r.sessions {
		if progress.CompletedAt != nil && progress.CompletedAt.Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

func (r *Registry) mutate(sessionID string, fn func(*domain.ImportProgress)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	progress, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	fn(progress)
	progress.UpdatedAt = time.Now().UTC()
}

func findAggregate(p *domain.ImportProgress, index string) *domain.AggregateProgress {
	for i := range p.Aggregates {
		if p.Aggregates[i].Index == index {
			return &p.Aggregates[i]
		}
	}
	return nil
}

func rollUp(p *domain.ImportProgress) {
	p.TotalProcessed = 0
	p.TotalInserted = 0
	p.TotalUpdated = 0
	p.TotalErrors = 0
	for _, agg := range p.Aggregates {
		p.TotalProcessed += agg.Processed
		p.TotalInserted += agg.Inserted
		p.TotalUpdated += agg.Updated
		p.TotalErrors += agg.Errors
	}
}

func snapshot(p *domain.ImportProgress) domain.ImportProgress {
	out := *p
	out.Aggregates = append([]domain.AggregateProgress(nil), p.Aggregates...)
	out.Errors = append([]domain.ImportError(nil), p.Errors...)
	return out
}
