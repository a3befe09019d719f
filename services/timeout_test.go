package services

import (
	"context"
	"testing"
	"time"

	"github.com/krshsl/mockmate/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSweeper(h *harness) *SessionTimeoutService {
	return NewSessionTimeoutService(h.repo, h.store, h.reports, h.errorLog, h.events, 30*time.Minute, "")
}

func backdate(t *testing.T, h *harness, id string, d time.Duration) {
	t.Helper()
	require.NoError(t, h.repo.UpdateInterviewSession(context.Background(), id, map[string]interface{}{
		"last_activity_at": time.Now().Add(-d),
	}))
}

func TestSweepTimesOutIdleSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	idle := h.startedSession(t, 3)
	active := h.startedSession(t, 3)
	backdate(t, h, idle, time.Hour)

	require.NoError(t, newSweeper(h).Sweep(ctx))

	assert.Equal(t, models.StatusTimeout, h.session(t, idle).Status)
	assert.Equal(t, models.StatusInProgress, h.session(t, active).Status)
	assert.Contains(t, h.events.types(idle), EventTimeout)
	assert.NotContains(t, h.events.types(active), EventTimeout)

	logs := h.errorLogs(t, idle)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LevelWarn, logs[0].Level)
	assert.Equal(t, "SESSION_TIMEOUT", logs[0].ErrorCode)

	_, err := h.interviewer.SubmitAnswer(ctx, idle, "late answer")
	assert.Equal(t, CodeInvalidState, ErrorCodeOf(err))
}

func TestTimeoutWhileGeneratingRejectsLateQuestion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.startedSession(t, 3)

	block := make(chan struct{})
	h.provider.setBlock(block)

	done := make(chan error, 1)
	go func() {
		_, err := h.interviewer.SubmitAnswer(ctx, id, "answer before the timeout")
		done <- err
	}()

	require.Eventually(t, func() bool {
		s, err := h.repo.GetInterviewSession(ctx, id)
		return err == nil && s != nil && s.AwaitingQuestion
	}, 5*time.Second, 10*time.Millisecond)

	backdate(t, h, id, time.Hour)
	require.NoError(t, newSweeper(h).Sweep(ctx))
	close(block)

	err := <-done
	assert.Equal(t, CodeConcurrentModification, ErrorCodeOf(err))

	stored := h.session(t, id)
	assert.Equal(t, models.StatusTimeout, stored.Status)
	assert.False(t, stored.AwaitingQuestion)

	msgs := h.messages(t, id)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[1].Role)
}

func TestSweepBackfillsPlaceholderReports(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.provider.setFail(PhaseFinalReport, true)

	id := h.startedSession(t, 1)
	_, err := h.interviewer.SubmitAnswer(ctx, id, "the only answer")
	require.NoError(t, err)
	h.reports.Wait()

	sweeper := newSweeper(h)
	for n := 0; n < MaxReportAttempts+1; n++ {
		require.NoError(t, sweeper.Sweep(ctx))
		h.reports.Wait()
	}

	report, err := h.repo.GetReport(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.True(t, report.IsPlaceholder)
	assert.Equal(t, MaxReportAttempts, report.Attempts)
	// Two provider attempts per generation, and generation stops at the attempt cap
	assert.Equal(t, 2*MaxReportAttempts, h.provider.callCount(PhaseFinalReport))
}

func TestSweepRegeneratesReportOnceProviderRecovers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.provider.setFail(PhaseFinalReport, true)

	id := h.startedSession(t, 1)
	_, err := h.interviewer.SubmitAnswer(ctx, id, "the only answer")
	require.NoError(t, err)
	h.reports.Wait()

	h.provider.setFail(PhaseFinalReport, false)
	require.NoError(t, newSweeper(h).Sweep(ctx))
	h.reports.Wait()

	report, err := h.repo.GetReport(ctx, id)
	require.NoError(t, err)
	assert.False(t, report.IsPlaceholder)
	assert.Equal(t, 82.0, report.OverallScore)
}

func TestSchedulerStartStop(t *testing.T) {
	h := newHarness(t)
	sweeper := NewSessionTimeoutService(h.repo, h.store, nil, h.errorLog, nil, time.Minute, "@every 1h")

	require.NoError(t, sweeper.Schedule("@every 1h", "noop", func() {}))
	require.NoError(t, sweeper.Start())
	sweeper.Stop()

	bad := NewSessionTimeoutService(h.repo, h.store, nil, h.errorLog, nil, time.Minute, "not a schedule")
	assert.Error(t, bad.Start())
}
