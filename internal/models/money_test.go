package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCents(t *testing.T) {
	cases := map[string]Cents{
		"3.08":    308,
		"3.25":    325,
		"10":      1000,
		"12.3456": 1235,
		"0.004":   0,
		"-1.5":    -150,
	}
	for in, want := range cases {
		got, err := ParseCents(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseCents("n/a")
	assert.Error(t, err)
}

func TestCentsFormatting(t *testing.T) {
	assert.Equal(t, "9.70", Cents(970).String())
	assert.Equal(t, "-52.00", Cents(-5200).String())
	assert.InDelta(t, 9.7, Cents(970).Dollars(), 1e-9)
}

func TestMulFraction(t *testing.T) {
	assert.Equal(t, Cents(5000), Cents(100000).MulFraction(0.05))
	assert.Equal(t, Cents(3), Cents(100).MulFraction(0.035))
	assert.Equal(t, Cents(0), Cents(0).MulFraction(0.05))
}

func TestCalendarDaySessionBounds(t *testing.T) {
	day := CalendarDay{Date: "2016-12-01", Status: "open", OpenStart: "09:30", OpenEnd: "16:00"}
	require.True(t, day.IsOpen())

	open, closing, err := day.SessionBounds(time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2016, 12, 1, 9, 30, 0, 0, time.UTC), open)
	assert.Equal(t, time.Date(2016, 12, 1, 16, 0, 0, 0, time.UTC), closing)

	_, _, err = CalendarDay{Date: "2016-12-01", OpenStart: "16:00", OpenEnd: "09:30"}.SessionBounds(time.UTC)
	assert.Error(t, err)

	_, _, err = CalendarDay{Date: "12/01/2016", OpenStart: "09:30", OpenEnd: "16:00"}.SessionBounds(time.UTC)
	assert.Error(t, err)
}

func TestReadinessBranches(t *testing.T) {
	assert.True(t, Normal.AllowsBuys())
	assert.True(t, Normal.AllowsSells())
	assert.False(t, HoldNoNewBuys.AllowsBuys())
	assert.True(t, HoldNoNewBuys.AllowsSells())
	assert.False(t, Liquidating.AllowsSells())
	assert.False(t, Halted.AllowsSells())
	assert.Equal(t, "HOLD_NO_NEW_BUYS", HoldNoNewBuys.String())
}
