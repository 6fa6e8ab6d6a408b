package conflict_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/prioritycore/internal/conflict"
	"github.com/notifyhub/prioritycore/internal/domain"
	"github.com/notifyhub/prioritycore/internal/fatigue"
)

func TestResolve_HighPriorityMaxedFatigueDefers(t *testing.T) {
	now := time.Now()
	e := domain.Event{PriorityHint: domain.PriorityHigh}
	res := conflict.Resolve(e, 80, fatigue.LevelMaxed, now)

	require.True(t, res.Resolved)
	assert.Equal(t, domain.DecisionLater, res.Decision)
	require.NotNil(t, res.ScheduleAt)
	assert.WithinDuration(t, now.Add(15*time.Minute), *res.ScheduleAt, time.Second)
}

func TestResolve_HighPriorityHighFatigueNoisySourceDefers(t *testing.T) {
	now := time.Now()
	e := domain.Event{PriorityHint: domain.PriorityHigh, Source: "promo-service"}
	res := conflict.Resolve(e, 70, fatigue.LevelHigh, now)

	require.True(t, res.Resolved)
	assert.Equal(t, domain.DecisionLater, res.Decision)
}

func TestResolve_HighPriorityHighFatigueNonNoisySourceDoesNotResolve(t *testing.T) {
	now := time.Now()
	e := domain.Event{PriorityHint: domain.PriorityHigh, Source: "scheduler-svc"}
	res := conflict.Resolve(e, 70, fatigue.LevelHigh, now)
	assert.False(t, res.Resolved)
}

func TestResolve_MediumPriorityMaxedFatigueSuppresses(t *testing.T) {
	now := time.Now()
	e := domain.Event{PriorityHint: domain.PriorityMedium}
	res := conflict.Resolve(e, 50, fatigue.LevelMaxed, now)

	require.True(t, res.Resolved)
	assert.Equal(t, domain.DecisionNever, res.Decision)
	assert.Nil(t, res.ScheduleAt)
}

func TestResolve_LowPriorityHighScoreMaxedFatigueDefers(t *testing.T) {
	now := time.Now()
	e := domain.Event{PriorityHint: domain.PriorityLow}
	res := conflict.Resolve(e, 65, fatigue.LevelMaxed, now)

	require.True(t, res.Resolved)
	assert.Equal(t, domain.DecisionLater, res.Decision)
}

func TestResolve_LowPriorityLowScoreMaxedFatigueDoesNotResolve(t *testing.T) {
	now := time.Now()
	e := domain.Event{PriorityHint: domain.PriorityLow}
	res := conflict.Resolve(e, 40, fatigue.LevelMaxed, now)
	assert.False(t, res.Resolved)
}

func TestResolve_NoConflictFallsThrough(t *testing.T) {
	now := time.Now()
	e := domain.Event{PriorityHint: domain.PriorityHigh}
	res := conflict.Resolve(e, 80, fatigue.LevelLow, now)
	assert.False(t, res.Resolved)
}
