package pull

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nykp/meetup-participation/internal/domain/shared"
	"github.com/nykp/meetup-participation/pkg/logger"
)

// RunStatus is the lifecycle state of a recorded pull.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	// RunPartial stopped at the page limit; ResumeCursor continues it.
	RunPartial RunStatus = "partial"
	// RunFailed stopped on a fetch error; ResumeCursor retries the failed page.
	RunFailed RunStatus = "failed"
)

// Run is one recorded pull.
type Run struct {
	ID           uuid.UUID
	Group        string
	StartCursor  string
	Status       RunStatus
	StartedAt    time.Time
	FinishedAt   time.Time
	Pages        int
	Rows         int
	ResumeCursor string
	Error        string
}

// Resumable reports whether the run stopped before the last page.
func (r Run) Resumable() bool {
	return r.ResumeCursor != "" && (r.Status == RunPartial || r.Status == RunFailed)
}

// RunRecorder persists the pull log.
type RunRecorder interface {
	Start(ctx context.Context, run Run) error
	Finish(ctx context.Context, run Run) error
	// LastUnfinished returns the newest resumable run for group, or an
	// error of kind shared.ErrNotFound.
	LastUnfinished(ctx context.Context, group string) (Run, error)
}

// Service runs pulls and records them.
type Service struct {
	driver *Driver
	runs   RunRecorder
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a Service. runs may be nil, in which case nothing is
// recorded.
func NewService(driver *Driver, runs RunRecorder, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		driver: driver,
		runs:   runs,
		logger: log.Named("pull"),
		now:    time.Now,
	}
}

// Pull fetches every page for group and records the run. Recorder failures
// are logged and do not stop the pull. The returned error is the driver's
// *PullError when a page fetch failed; the partial result is still returned.
func (s *Service) Pull(ctx context.Context, group string, opts Options) (Run, Result, error) {
	run := Run{
		ID:          uuid.New(),
		Group:       group,
		StartCursor: opts.StartCursor,
		Status:      RunRunning,
		StartedAt:   s.now(),
	}
	log := logger.WithContext(ctx, s.logger).With(
		zap.String("run_id", run.ID.String()),
		zap.String("group", group),
	)

	if s.runs != nil {
		if err := s.runs.Start(ctx, run); err != nil {
			log.Warn("failed to record pull start", zap.Error(err))
		}
	}

	log.Info("pull started",
		zap.String("start_cursor", opts.StartCursor),
		zap.Int("page_limit", opts.PageLimit),
	)

	userProgress := opts.OnProgress
	opts.OnProgress = func(p Progress) {
		log.Info("pull progress",
			zap.Int("pages", p.Pages),
			zap.Int("rows", p.Rows),
			zap.Time("up_to", p.LastEvent),
			zap.String("last_cursor", p.Cursor),
		)
		if userProgress != nil {
			userProgress(p)
		}
	}

	res, err := s.driver.FetchAll(ctx, group, opts)

	run.FinishedAt = s.now()
	run.Pages = res.Pages
	run.Rows = len(res.Facts)

	var pullErr *PullError
	switch {
	case errors.As(err, &pullErr):
		run.Status = RunFailed
		run.ResumeCursor = pullErr.Cursor
		run.Error = pullErr.Err.Error()
		log.Error("pull failed",
			zap.Int("pages", run.Pages),
			zap.Int("rows", run.Rows),
			zap.String("resume_cursor", run.ResumeCursor),
			zap.Error(pullErr.Err),
		)
	case err != nil:
		run.Status = RunFailed
		run.Error = err.Error()
		log.Error("pull failed", zap.Error(err))
	case res.NextCursor != "":
		run.Status = RunPartial
		run.ResumeCursor = res.NextCursor
		log.Info("pull stopped at page limit",
			zap.Int("pages", run.Pages),
			zap.Int("rows", run.Rows),
			zap.String("resume_cursor", run.ResumeCursor),
		)
	default:
		run.Status = RunCompleted
		log.Info("pull completed",
			zap.Int("pages", run.Pages),
			zap.Int("rows", run.Rows),
			zap.Duration("duration", run.FinishedAt.Sub(run.StartedAt)),
		)
	}

	if s.runs != nil {
		// recorded even when ctx was cancelled
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if ferr := s.runs.Finish(recordCtx, run); ferr != nil {
			log.Warn("failed to record pull finish", zap.Error(ferr))
		}
	}

	return run, res, err
}

// Resume continues the newest resumable run for group. It returns an error
// of kind shared.ErrNotFound when there is nothing to resume.
func (s *Service) Resume(ctx context.Context, group string, opts Options) (Run, Result, error) {
	if s.runs == nil {
		return Run{}, Result{}, shared.NewDomainError("pull", "Resume", shared.ErrNotFound, "no run log configured")
	}

	last, err := s.runs.LastUnfinished(ctx, group)
	if err != nil {
		return Run{}, Result{}, err
	}
	if !last.Resumable() {
		return Run{}, Result{}, shared.NewDomainError("pull", "Resume", shared.ErrNotFound, "last run is not resumable")
	}

	s.logger.Info("resuming pull",
		zap.String("group", group),
		zap.String("previous_run", last.ID.String()),
		zap.String("cursor", last.ResumeCursor),
	)
	opts.StartCursor = last.ResumeCursor
	return s.Pull(ctx, group, opts)
}
