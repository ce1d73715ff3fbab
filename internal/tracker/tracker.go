package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/marketops/mpimport/internal/domain"
)

// State is the tracker lifecycle phase.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StatePolling  State = "polling"
)

// ErrAlreadyWatching is returned by Start while a session is in flight.
var ErrAlreadyWatching = errors.New("tracker is already watching a session")

const defaultPollInterval = 2 * time.Second

// Tracker drives one import session at a time: it starts the import,
// polls progress on a fixed interval, persists the session reference so
// a restart can resume, and clears that state once the session reaches
// a terminal status. Polls are strictly sequential, a slow response
// delays the next poll rather than overlapping it.
type Tracker struct {
	usecase  string
	client   Client
	store    Store
	interval time.Duration

	// OnProgress is invoked after every successful poll, including the
	// terminal one. OnError is invoked for poll failures other than a
	// vanished session.
	OnProgress func(domain.ImportProgress)
	OnError    func(error)

	mu      sync.Mutex
	state   State
	session string
	cancel  context.CancelFunc
	done    chan struct{}
}

type TrackerOption func(*Tracker)

// WithPollInterval overrides the default 2s poll interval.
func WithPollInterval(interval time.Duration) TrackerOption {
	return func(t *Tracker) {
		if interval > 0 {
			t.interval = interval
		}
	}
}

// New creates a tracker for one usecase. The usecase string namespaces
// the persisted keys, so independent import screens do not clobber each
// other's sessions.
func New(usecase string, client Client, store Store, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		usecase:  usecase,
		client:   client,
		store:    store,
		interval: defaultPollInterval,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the current lifecycle phase.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SessionID returns the session being watched, empty when idle.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

// Watching reports whether a start or poll loop is in flight.
func (t *Tracker) Watching() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state != StateIdle
}

// Start begins a new import session and watches it until a terminal
// status. It fails with ErrAlreadyWatching while a session is active.
func (t *Tracker) Start(ctx context.Context, req domain.ImportRequest) (string, error) {
	t.mu.Lock()
	if t.state != StateIdle {
		t.mu.Unlock()
		return "", ErrAlreadyWatching
	}
	t.state = StateStarting
	t.mu.Unlock()

	resp, err := t.client.StartImport(ctx, req)
	if err != nil {
		t.mu.Lock()
		t.state = StateIdle
		t.mu.Unlock()
		return "", err
	}
	if resp.SessionID == "" {
		t.mu.Lock()
		t.state = StateIdle
		t.mu.Unlock()
		return "", fmt.Errorf("server rejected import: %s", resp.Message)
	}

	if err := t.store.Set(t.sessionKey(), resp.SessionID); err != nil {
		log.Printf("[tracker] persist session id: %v", err)
	}
	t.watch(resp.SessionID)
	return resp.SessionID, nil
}

// Resume checks the store for a previously persisted session and, when
// the server still knows it, watches it to completion without starting
// a new import. A vanished session (404) is cleared silently. It
// returns ok=true when a session was picked up.
func (t *Tracker) Resume(ctx context.Context) (string, bool) {
	t.mu.Lock()
	if t.state != StateIdle {
		t.mu.Unlock()
		return "", false
	}
	t.mu.Unlock()

	sessionID, found, err := t.store.Get(t.sessionKey())
	if err != nil || !found || sessionID == "" {
		return "", false
	}

	progress, err := t.client.FetchProgress(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			t.clearPersisted()
		}
		return "", false
	}

	t.handleProgress(sessionID, progress)
	if progress.Status.Terminal() {
		t.clearPersisted()
		return sessionID, false
	}
	t.watch(sessionID)
	return sessionID, true
}

// Stop cancels the watch loop without touching persisted state, so a
// later Resume can pick the session back up.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	done := t.done
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (t *Tracker) watch(sessionID string) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	t.mu.Lock()
	t.state = StatePolling
	t.session = sessionID
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		t.pollLoop(ctx, sessionID)
	}()
}

func (t *Tracker) pollLoop(ctx context.Context, sessionID string) {
	timer := time.NewTimer(t.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			t.toIdle(false)
			return
		case <-timer.C:
		}

		progress, err := t.client.FetchProgress(ctx, sessionID)
		switch {
		case errors.Is(err, ErrSessionNotFound):
			// The server dropped the session. Clear the stale
			// reference and stop without surfacing an error.
			t.toIdle(true)
			return
		case errors.Is(err, context.Canceled):
			t.toIdle(false)
			return
		case err != nil:
			if t.OnError != nil {
				t.OnError(err)
			}
			t.toIdle(false)
			return
		}

		t.handleProgress(sessionID, progress)
		if progress.Status.Terminal() {
			t.toIdle(true)
			return
		}
		timer.Reset(t.interval)
	}
}

func (t *Tracker) handleProgress(sessionID string, progress domain.ImportProgress) {
	if raw, err := json.Marshal(progress); err == nil {
		if storeErr := t.store.Set(t.progressKey(), string(raw)); storeErr != nil {
			log.Printf("[tracker] persist progress for %s: %v", sessionID, storeErr)
		}
	}
	if t.OnProgress != nil {
		t.OnProgress(progress)
	}
}

// LastProgress returns the most recently persisted snapshot, if any.
func (t *Tracker) LastProgress() (domain.ImportProgress, bool) {
	raw, found, err := t.store.Get(t.progressKey())
	if err != nil || !found {
		return domain.ImportProgress{}, false
	}
	var progress domain.ImportProgress
	if err := json.Unmarshal([]byte(raw), &progress); err != nil {
		return domain.ImportProgress{}, false
	}
	return progress, true
}

func (t *Tracker) toIdle(clear bool) {
	if clear {
		t.clearPersisted()
	}
	t.mu.Lock()
	t.state = StateIdle
	t.session = ""
	t.cancel = nil
	t.mu.Unlock()
}

func (t *Tracker) clearPersisted() {
	if err := t.store.Delete(t.sessionKey()); err != nil {
		log.Printf("[tracker] clear session id: %v", err)
	}
	if err := t.store.Delete(t.progressKey()); err != nil {
		log.Printf("[tracker] clear progress: %v", err)
	}
}

func (t *Tracker) sessionKey() string {
	return t.usecase + "_session_id"
}

func (t *Tracker) progressKey() string {
	return t.usecase + "_progress"
}
