package tui

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/fwrdsync/internal/progress"
)

func TestRefreshModel_Update(t *testing.T) {
	m := NewRefreshModel("Refreshing")

	next, _ := m.Update(snapshotMsg(progress.Snapshot{Total: 4, Remaining: 3}))
	m = next.(RefreshModel)
	assert.True(t, m.started)
	assert.Contains(t, m.View(), "1/4 tasks")

	next, cmd := m.Update(refreshDoneMsg{err: errors.New("boom")})
	m = next.(RefreshModel)
	require.NotNil(t, cmd)
	assert.True(t, m.done)
	assert.Contains(t, m.View(), "boom")
	assert.EqualError(t, m.Err(), "boom")
}

func TestRefreshModel_QuitCancels(t *testing.T) {
	m := NewRefreshModel("Refreshing")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = next.(RefreshModel)
	require.NotNil(t, cmd)
	assert.ErrorIs(t, m.Err(), ErrRefreshCanceled)
	assert.Contains(t, m.View(), MsgRefreshCanceled)
}

func TestRunRefresh_ReportsOutcome(t *testing.T) {
	tracker := progress.NewTracker()
	opts := RefreshOptions{Out: io.Discard, In: strings.NewReader("")}

	err := RunRefresh(context.Background(), tracker, opts, func(ctx context.Context) error {
		if !tracker.TryBegin(3) {
			return errors.New("tracker busy")
		}
		tracker.CompleteTasks(3)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, tracker.IsComplete())

	failure := errors.New("network down")
	err = RunRefresh(context.Background(), tracker, opts, func(context.Context) error {
		return failure
	})
	assert.ErrorIs(t, err, failure)
}
