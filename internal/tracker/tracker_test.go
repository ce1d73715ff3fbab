package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marketops/mpimport/internal/domain"
)

// fakeServer serves the import API with a scripted progress sequence.
// Each progress poll consumes the next snapshot; the last one repeats.
type fakeServer struct {
	mu         sync.Mutex
	sessionID  string
	sequence   []domain.ImportProgress
	polls      int
	starts     int
	vanished   bool // respond 404 to every progress poll
}

func (f *fakeServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/start"):
			f.starts++
			resp := domain.ImportResponse{SessionID: f.sessionID, Status: domain.StartStatusStarted}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(resp)
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/progress"):
			if f.vanished {
				http.Error(w, "session not found", http.StatusNotFound)
				return
			}
			idx := f.polls
			if idx >= len(f.sequence) {
				idx = len(f.sequence) - 1
			}
			f.polls++
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(f.sequence[idx])
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	})
}

func (f *fakeServer) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *fakeServer) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func snapshotWith(sessionID string, status domain.ImportStatus) domain.ImportProgress {
	progress := domain.NewImportProgress(sessionID)
	progress.Status = status
	return progress
}

func waitUntilIdle(t *testing.T, tr *Tracker) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !tr.Watching() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("tracker never returned to idle")
}

func TestTrackerPollsUntilTerminalAndClearsStore(t *testing.T) {
	fake := &fakeServer{
		sessionID: "s1",
		sequence: []domain.ImportProgress{
			snapshotWith("s1", domain.ImportStatusRunning),
			snapshotWith("s1", domain.ImportStatusRunning),
			snapshotWith("s1", domain.ImportStatusCompleted),
		},
	}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	store := NewMemStore()
	tr := New("u501", NewHTTPClient(server.URL), store, WithPollInterval(10*time.Millisecond))

	var mu sync.Mutex
	var seen []domain.ImportStatus
	tr.OnProgress = func(p domain.ImportProgress) {
		mu.Lock()
		seen = append(seen, p.Status)
		mu.Unlock()
	}

	sessionID, err := tr.Start(context.Background(), domain.ImportRequest{
		ConnectionID:     "conn-1",
		TargetAggregates: []string{"a004_nomenclature"},
	})
	if err != nil {
		t.Fatalf("start returned error: %v", err)
	}
	if sessionID != "s1" {
		t.Fatalf("session id = %q, want s1", sessionID)
	}

	waitUntilIdle(t, tr)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("expected 3 progress callbacks, got %d (%v)", len(seen), seen)
	}
	if seen[2] != domain.ImportStatusCompleted {
		t.Fatalf("last status = %s, want Completed", seen[2])
	}
	if fake.pollCount() != 3 {
		t.Fatalf("polling must stop after the terminal snapshot, got %d polls", fake.pollCount())
	}
	if _, found, _ := store.Get("u501_session_id"); found {
		t.Fatalf("terminal status must clear the stored session id")
	}
	if _, found, _ := store.Get("u501_progress"); found {
		t.Fatalf("terminal status must clear the stored progress")
	}
}

func TestTrackerStartRejectsWhileWatching(t *testing.T) {
	fake := &fakeServer{
		sessionID: "s1",
		sequence:  []domain.ImportProgress{snapshotWith("s1", domain.ImportStatusRunning)},
	}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	tr := New("u501", NewHTTPClient(server.URL), NewMemStore(), WithPollInterval(time.Hour))
	defer tr.Stop()

	if _, err := tr.Start(context.Background(), domain.ImportRequest{ConnectionID: "c", TargetAggregates: []string{"x"}}); err != nil {
		t.Fatalf("first start returned error: %v", err)
	}
	if _, err := tr.Start(context.Background(), domain.ImportRequest{ConnectionID: "c", TargetAggregates: []string{"x"}}); err != ErrAlreadyWatching {
		t.Fatalf("expected ErrAlreadyWatching, got %v", err)
	}
}

func TestTrackerVanishedSessionClearsSilently(t *testing.T) {
	fake := &fakeServer{sessionID: "s1", vanished: true}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	store := NewMemStore()
	tr := New("u501", NewHTTPClient(server.URL), store, WithPollInterval(10*time.Millisecond))

	errCalled := false
	tr.OnError = func(error) { errCalled = true }

	if _, err := tr.Start(context.Background(), domain.ImportRequest{ConnectionID: "c", TargetAggregates: []string{"x"}}); err != nil {
		t.Fatalf("start returned error: %v", err)
	}
	waitUntilIdle(t, tr)

	if errCalled {
		t.Fatalf("a vanished session must not surface as an error")
	}
	if _, found, _ := store.Get("u501_session_id"); found {
		t.Fatalf("stale session id must be cleared")
	}
}

func TestTrackerOtherErrorsStopWithoutClearing(t *testing.T) {
	store := NewMemStore()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/start") {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(domain.ImportResponse{SessionID: "s1", Status: domain.StartStatusStarted})
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	tr := New("u501", NewHTTPClient(server.URL), store, WithPollInterval(10*time.Millisecond))

	errCh := make(chan error, 1)
	tr.OnError = func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	if _, err := tr.Start(context.Background(), domain.ImportRequest{ConnectionID: "c", TargetAggregates: []string{"x"}}); err != nil {
		t.Fatalf("start returned error: %v", err)
	}
	waitUntilIdle(t, tr)

	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatalf("expected an error callback")
	}
	if _, found, _ := store.Get("u501_session_id"); !found {
		t.Fatalf("transient failures must keep the session id for a later resume")
	}
}

func TestTrackerResumeUsesStoredSession(t *testing.T) {
	fake := &fakeServer{
		sessionID: "s9",
		sequence: []domain.ImportProgress{
			snapshotWith("s9", domain.ImportStatusRunning),
			snapshotWith("s9", domain.ImportStatusCompleted),
		},
	}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	store := NewMemStore()
	_ = store.Set("u501_session_id", "s9")

	tr := New("u501", NewHTTPClient(server.URL), store, WithPollInterval(10*time.Millisecond))

	sessionID, watching := tr.Resume(context.Background())
	if sessionID != "s9" || !watching {
		t.Fatalf("resume = (%q, %v), want (s9, true)", sessionID, watching)
	}
	waitUntilIdle(t, tr)

	if fake.startCount() != 0 {
		t.Fatalf("resume must not issue a new start request, saw %d", fake.startCount())
	}
	if _, found, _ := store.Get("u501_session_id"); found {
		t.Fatalf("completed resumed session must clear the store")
	}
}

func TestTrackerResumeTerminalSessionClearsStore(t *testing.T) {
	fake := &fakeServer{
		sessionID: "s7",
		sequence:  []domain.ImportProgress{snapshotWith("s7", domain.ImportStatusCompleted)},
	}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	store := NewMemStore()
	_ = store.Set("u501_session_id", "s7")

	tr := New("u501", NewHTTPClient(server.URL), store, WithPollInterval(10*time.Millisecond))

	var last domain.ImportProgress
	tr.OnProgress = func(p domain.ImportProgress) { last = p }

	sessionID, watching := tr.Resume(context.Background())
	if sessionID != "s7" || watching {
		t.Fatalf("resume of a finished session = (%q, %v), want (s7, false)", sessionID, watching)
	}
	if last.Status != domain.ImportStatusCompleted {
		t.Fatalf("final snapshot must still reach OnProgress, got %s", last.Status)
	}
	if _, found, _ := store.Get("u501_session_id"); found {
		t.Fatalf("terminal snapshot on resume must clear the stored session id")
	}
	if _, found, _ := store.Get("u501_progress"); found {
		t.Fatalf("terminal snapshot on resume must clear the stored progress")
	}
}

func TestTrackerResumeVanishedSessionClears(t *testing.T) {
	fake := &fakeServer{sessionID: "gone", vanished: true}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	store := NewMemStore()
	_ = store.Set("u501_session_id", "gone")

	tr := New("u501", NewHTTPClient(server.URL), store, WithPollInterval(10*time.Millisecond))

	sessionID, watching := tr.Resume(context.Background())
	if sessionID != "" || watching {
		t.Fatalf("resume of a vanished session = (%q, %v), want nothing", sessionID, watching)
	}
	if _, found, _ := store.Get("u501_session_id"); found {
		t.Fatalf("vanished session reference must be cleared")
	}
}

func TestTrackerResumeWithEmptyStore(t *testing.T) {
	tr := New("u501", NewHTTPClient("http://127.0.0.1:0"), NewMemStore())
	if sessionID, watching := tr.Resume(context.Background()); sessionID != "" || watching {
		t.Fatalf("resume with an empty store must be a no-op")
	}
}
