// Package status records the workload status and forwards it to the host.
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/domain"
	"github.com/MrSnakeDoc/reviewqueue-agent/internal/logger"
)

// Recorder persists the last status.
type Recorder interface {
	SaveStatus(ctx context.Context, st domain.Status) error
}

// Publisher forwards the status to the host (status-set).
type Publisher interface {
	SetStatus(ctx context.Context, st domain.Status) error
}

// Reporter writes every status to both the state store and the host.
type Reporter struct {
	recorder  Recorder
	publisher Publisher
	logger    logger.Logger
	now       func() time.Time
}

func NewReporter(recorder Recorder, publisher Publisher, log logger.Logger) *Reporter {
	return &Reporter{recorder: recorder, publisher: publisher, logger: log, now: time.Now}
}

func (r *Reporter) Report(ctx context.Context, st domain.Status) error {
	st.UpdatedAt = r.now().UTC()
	r.logger.Info("status changed",
		logger.String("state", string(st.State)),
		logger.String("message", st.Message))

	if err := r.recorder.SaveStatus(ctx, st); err != nil {
		return fmt.Errorf("record status: %w", err)
	}
	if err := r.publisher.SetStatus(ctx, st); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	return nil
}
