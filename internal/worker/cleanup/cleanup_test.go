package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// mockPurger はPurgerのモック実装。
type mockPurger struct {
	mu      sync.Mutex
	calls   int
	before  time.Time
	deleted int64
	err     error
}

func (m *mockPurger) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.before = before
	return m.deleted, m.err
}

func (m *mockPurger) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockRecorder struct {
	total int64
}

func (m *mockRecorder) RecordOTPPurged(count int64) { m.total += count }

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestNewOTPPurgeJob_Defaults(t *testing.T) {
	var buf bytes.Buffer
	job := NewOTPPurgeJob(&mockPurger{}, newTestLogger(&buf), nil)

	if job == nil {
		t.Fatal("NewOTPPurgeJob は nil を返してはならない")
	}
	if job.Interval != time.Hour {
		t.Errorf("Interval = %v, want 1h", job.Interval)
	}
}

func TestRun_DeletesBeforeNowAndLogs(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	purger := &mockPurger{deleted: 7}
	recorder := &mockRecorder{}

	job := NewOTPPurgeJob(purger, newTestLogger(&buf), recorder)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if !purger.before.Equal(now) {
		t.Errorf("before = %v, want %v", purger.before, now)
	}
	if recorder.total != 7 {
		t.Errorf("recorded = %d, want 7", recorder.total)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log: %v\nraw: %s", err, buf.String())
	}
	if entry["deleted_count"] != float64(7) {
		t.Errorf("deleted_count = %v, want 7", entry["deleted_count"])
	}
}

func TestRun_NothingToDelete_IsNotAnError(t *testing.T) {
	var buf bytes.Buffer
	job := NewOTPPurgeJob(&mockPurger{deleted: 0}, newTestLogger(&buf), nil)

	if err := job.Run(context.Background()); err != nil {
		t.Errorf("Run returned error: %v", err)
	}
}

func TestRun_PropagatesError(t *testing.T) {
	var buf bytes.Buffer
	dbErr := errors.New("connection refused")
	job := NewOTPPurgeJob(&mockPurger{err: dbErr}, newTestLogger(&buf), &mockRecorder{})

	err := job.Run(context.Background())
	if !errors.Is(err, dbErr) {
		t.Errorf("err = %v, want wrapped %v", err, dbErr)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"level":"ERROR"`)) {
		t.Errorf("expected an error log, got %s", buf.String())
	}
}

func TestStart_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	purger := &mockPurger{}
	job := NewOTPPurgeJob(purger, newTestLogger(&buf), nil)
	job.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for purger.callCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("calls = %d, want >= 3", purger.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
