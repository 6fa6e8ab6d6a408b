package dnd_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/notifyhub/prioritycore/internal/dnd"
	"github.com/notifyhub/prioritycore/pkg/clock"
)

func at(hour int) time.Time {
	return time.Date(2026, 7, 30, hour, 0, 0, 0, time.UTC)
}

func TestCheck_DefaultWindowOvernight(t *testing.T) {
	cases := []struct {
		hour  int
		inDND bool
	}{
		{22, false},
		{23, true},
		{2, true},
		{7, true},
		{8, false},
		{12, false},
	}
	for _, c := range cases {
		g := dnd.New(clock.NewFixed(at(c.hour)))
		result := g.Check()
		assert.Equal(t, c.inDND, result.InDND, "hour %d", c.hour)
		assert.Equal(t, "23:00-08:00", result.Window)
	}
}

func TestNextBoundary_TodayWhenBeforeEndHour(t *testing.T) {
	g := dnd.New(clock.NewFixed(at(2)))
	boundary := g.NextBoundary()
	assert.Equal(t, at(8), boundary)
}

func TestNextBoundary_TomorrowWhenAtOrAfterEndHour(t *testing.T) {
	g := dnd.New(clock.NewFixed(at(8)))
	boundary := g.NextBoundary()
	assert.Equal(t, at(8).AddDate(0, 0, 1), boundary)

	g2 := dnd.New(clock.NewFixed(at(23)))
	boundary2 := g2.NextBoundary()
	assert.Equal(t, at(8).AddDate(0, 0, 1), boundary2)
}

func TestCheck_NonOvernightWindow(t *testing.T) {
	g := dnd.NewWithWindow(clock.NewFixed(at(13)), dnd.Window{StartHour: 12, EndHour: 14})
	assert.True(t, g.Check().InDND)

	g2 := dnd.NewWithWindow(clock.NewFixed(at(15)), dnd.Window{StartHour: 12, EndHour: 14})
	assert.False(t, g2.Check().InDND)
}
