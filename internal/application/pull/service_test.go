package pull

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nykp/meetup-participation/internal/domain/shared"
)

type memoryRuns struct {
	started  []Run
	finished []Run
	startErr error
}

func (m *memoryRuns) Start(_ context.Context, run Run) error {
	m.started = append(m.started, run)
	return m.startErr
}

func (m *memoryRuns) Finish(_ context.Context, run Run) error {
	m.finished = append(m.finished, run)
	return nil
}

func (m *memoryRuns) LastUnfinished(_ context.Context, group string) (Run, error) {
	for i := len(m.finished) - 1; i >= 0; i-- {
		if r := m.finished[i]; r.Group == group && r.Resumable() {
			return r, nil
		}
	}
	return Run{}, shared.NewDomainError("pull", "LastUnfinished", shared.ErrNotFound, "no run")
}

func TestService_RecordsCompletedRun(t *testing.T) {
	runs := &memoryRuns{}
	svc := NewService(NewDriver(&fakeFetcher{pages: chain(2)}), runs, zap.NewNop())

	run, res, err := svc.Pull(context.Background(), "g", Options{})
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, run.Status)
	assert.Equal(t, 2, run.Pages)
	assert.Equal(t, len(res.Facts), run.Rows)
	require.Len(t, runs.started, 1)
	require.Len(t, runs.finished, 1)
	assert.Equal(t, runs.started[0].ID, runs.finished[0].ID)
	assert.Equal(t, RunRunning, runs.started[0].Status)
	assert.False(t, run.Resumable())
}

func TestService_PartialRunIsResumable(t *testing.T) {
	runs := &memoryRuns{}
	f := &fakeFetcher{pages: chain(3)}
	svc := NewService(NewDriver(f), runs, nil)

	run, _, err := svc.Pull(context.Background(), "g", Options{PageLimit: 2})
	require.NoError(t, err)
	assert.Equal(t, RunPartial, run.Status)
	assert.Equal(t, "c2", run.ResumeCursor)

	resumed, res, err := svc.Resume(context.Background(), "g", Options{})
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, resumed.Status)
	assert.Equal(t, "c2", resumed.StartCursor)
	assert.Equal(t, 1, res.Pages)
	assert.NotEqual(t, run.ID, resumed.ID)
}

func TestService_FailedRunKeepsCursor(t *testing.T) {
	runs := &memoryRuns{}
	boom := errors.New("boom")
	svc := NewService(NewDriver(&fakeFetcher{pages: chain(3), failAt: "c1", failErr: boom}), runs, nil)

	run, res, err := svc.Pull(context.Background(), "g", Options{})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, RunFailed, run.Status)
	assert.Equal(t, "c1", run.ResumeCursor)
	assert.Equal(t, "boom", run.Error)
	assert.Len(t, res.Facts, 1)
	assert.True(t, run.Resumable())
}

func TestService_RecorderFailureDoesNotStopPull(t *testing.T) {
	runs := &memoryRuns{startErr: errors.New("db down")}
	svc := NewService(NewDriver(&fakeFetcher{pages: chain(1)}), runs, nil)

	run, _, err := svc.Pull(context.Background(), "g", Options{})
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, run.Status)
}

func TestService_ResumeWithoutRuns(t *testing.T) {
	svc := NewService(NewDriver(&fakeFetcher{pages: chain(1)}), &memoryRuns{}, nil)
	_, _, err := svc.Resume(context.Background(), "g", Options{})
	assert.True(t, shared.IsNotFound(err))

	svc = NewService(NewDriver(&fakeFetcher{pages: chain(1)}), nil, nil)
	_, _, err = svc.Resume(context.Background(), "g", Options{})
	assert.True(t, shared.IsNotFound(err))
}

func TestService_ForwardsProgress(t *testing.T) {
	svc := NewService(NewDriver(&fakeFetcher{pages: chain(2)}), nil, nil)

	var pages []int
	_, _, err := svc.Pull(context.Background(), "g", Options{
		ProgressEvery: 1,
		OnProgress:    func(p Progress) { pages = append(pages, p.Pages) },
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, pages)
}
