package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/domain"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/logger"
)

type memRecorder struct {
	saved []domain.Status
	err   error
}

func (m *memRecorder) SaveStatus(_ context.Context, st domain.Status) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, st)
	return nil
}

type memPublisher struct {
	published []domain.Status
}

func (m *memPublisher) SetStatus(_ context.Context, st domain.Status) error {
	m.published = append(m.published, st)
	return nil
}

func TestReporterReport(t *testing.T) {
	rec := &memRecorder{}
	pub := &memPublisher{}
	r := NewReporter(rec, pub, logger.NewNop())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	if err := r.Report(context.Background(), domain.Serving("8080")); err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if len(rec.saved) != 1 || len(pub.published) != 1 {
		t.Fatalf("saved=%d published=%d, want 1 each", len(rec.saved), len(pub.published))
	}
	if !rec.saved[0].UpdatedAt.Equal(fixed) {
		t.Errorf("UpdatedAt = %v, want %v", rec.saved[0].UpdatedAt, fixed)
	}
	if pub.published[0].Message != "Serving on port 8080" {
		t.Errorf("published %+v", pub.published[0])
	}
}

func TestReporterRecordFailure(t *testing.T) {
	rec := &memRecorder{err: errors.New("redis down")}
	pub := &memPublisher{}
	r := NewReporter(rec, pub, logger.NewNop())

	if err := r.Report(context.Background(), domain.Blocked("Service failed to start")); err == nil {
		t.Error("Report() should surface store errors")
	}
	if len(pub.published) != 0 {
		t.Error("status must not be published when it could not be recorded")
	}
}
