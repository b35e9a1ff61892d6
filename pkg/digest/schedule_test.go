package digest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eastern(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestDeterminePending(t *testing.T) {
	loc := eastern(t)
	s := NewSchedule(loc, DefaultTolerance)

	tests := []struct {
		name     string
		now      time.Time
		wantType Type
		wantAt   time.Time
		due      bool
	}{
		{
			name:     "tuesday premarket inside tolerance",
			now:      time.Date(2024, 1, 2, 6, 35, 0, 0, loc),
			wantType: Premarket,
			wantAt:   time.Date(2024, 1, 2, 6, 30, 0, 0, loc),
			due:      true,
		},
		{
			name: "tuesday after premarket tolerance",
			now:  time.Date(2024, 1, 2, 7, 5, 0, 0, loc),
		},
		{
			name:     "exact window time",
			now:      time.Date(2024, 1, 3, 12, 0, 0, 0, loc),
			wantType: Lunch,
			wantAt:   time.Date(2024, 1, 3, 12, 0, 0, 0, loc),
			due:      true,
		},
		{
			name:     "tolerance edge inclusive",
			now:      time.Date(2024, 1, 4, 16, 50, 0, 0, loc),
			wantType: Postmarket,
			wantAt:   time.Date(2024, 1, 4, 16, 30, 0, 0, loc),
			due:      true,
		},
		{
			name: "one second before window",
			now:  time.Date(2024, 1, 4, 16, 29, 59, 0, loc),
		},
		{
			name:     "saturday weekly",
			now:      time.Date(2024, 1, 6, 12, 10, 0, 0, loc),
			wantType: Weekly,
			wantAt:   time.Date(2024, 1, 6, 12, 0, 0, 0, loc),
			due:      true,
		},
		{
			name: "saturday premarket time is not a window",
			now:  time.Date(2024, 1, 6, 6, 35, 0, 0, loc),
		},
		{
			name: "sunday lunch time is not a window",
			now:  time.Date(2024, 1, 7, 12, 5, 0, 0, loc),
		},
		{
			name:     "utc input is evaluated in local time",
			now:      time.Date(2024, 1, 2, 11, 40, 0, 0, time.UTC),
			wantType: Premarket,
			wantAt:   time.Date(2024, 1, 2, 6, 30, 0, 0, loc),
			due:      true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := s.DeterminePending(tt.now)
			require.Equal(t, tt.due, ok)
			if !tt.due {
				return
			}
			assert.Equal(t, tt.wantType, p.Type)
			assert.True(t, tt.wantAt.Equal(p.ScheduledFor), "got %s", p.ScheduledFor)
		})
	}
}

func TestAlreadySent(t *testing.T) {
	s := NewSchedule(time.UTC, 20*time.Minute)
	scheduled := time.Date(2024, 1, 2, 11, 30, 0, 0, time.UTC)

	assert.False(t, s.AlreadySent(nil, scheduled))

	sameWindow := scheduled.Add(2 * time.Minute)
	assert.True(t, s.AlreadySent(&sameWindow, scheduled))

	edge := scheduled.Add(-20 * time.Minute)
	assert.True(t, s.AlreadySent(&edge, scheduled))

	yesterday := scheduled.Add(-24 * time.Hour)
	assert.False(t, s.AlreadySent(&yesterday, scheduled))
}

func TestPeriodStart(t *testing.T) {
	s := NewSchedule(time.UTC, DefaultTolerance)
	now := time.Date(2024, 1, 6, 17, 0, 0, 0, time.UTC)

	tests := []struct {
		typ  Type
		want time.Duration
	}{
		{Premarket, 24 * time.Hour},
		{Lunch, 6 * time.Hour},
		{Postmarket, 6 * time.Hour},
		{Weekly, 7 * 24 * time.Hour},
	}
	for _, tt := range tests {
		got, err := s.PeriodStart(tt.typ, nil, now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(-tt.want), got, tt.typ)
	}

	last := now.Add(-3 * time.Hour)
	got, err := s.PeriodStart(Lunch, &last, now)
	require.NoError(t, err)
	assert.Equal(t, last, got)
}

func TestUnknownType(t *testing.T) {
	s := NewSchedule(time.UTC, DefaultTolerance)

	_, err := s.PeriodStart("midnight", nil, time.Now())
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = s.Previous("midnight", time.Now())
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestPrevious(t *testing.T) {
	loc := eastern(t)
	s := NewSchedule(loc, DefaultTolerance)

	// Monday 05:00: last premarket was Friday.
	p, err := s.Previous(Premarket, time.Date(2024, 1, 8, 5, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 1, 5, 6, 30, 0, 0, loc).Equal(p.ScheduledFor))

	// Saturday 13:00: weekly earlier the same day.
	p, err = s.Previous(Weekly, time.Date(2024, 1, 6, 13, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 1, 6, 12, 0, 0, 0, loc).Equal(p.ScheduledFor))
}
