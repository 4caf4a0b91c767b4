package calendar

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateOfUsesBusinessTimezone(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	cal := New(jakarta)

	// 2024-01-01 18:30 UTC is already 2024-01-02 in UTC+7.
	instant := time.Date(2024, 1, 1, 18, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-02", cal.DateOf(instant).String())
	assert.Equal(t, "2024-01-01", New(time.UTC).DateOf(instant).String())
}

func TestTodayAndYesterdayFollowClock(t *testing.T) {
	cal := New(time.UTC).WithClock(func() time.Time {
		return time.Date(2024, 3, 1, 0, 5, 0, 0, time.UTC)
	})

	assert.Equal(t, MustParseDate("2024-03-01"), cal.Today())
	assert.Equal(t, MustParseDate("2024-02-29"), cal.Yesterday())
}

func TestAddDaysAcrossMonthAndYear(t *testing.T) {
	assert.Equal(t, "2024-01-01", MustParseDate("2023-12-31").AddDays(1).String())
	assert.Equal(t, "2024-02-29", MustParseDate("2024-03-01").AddDays(-1).String())
}

func TestDateJSONRoundTripAndScan(t *testing.T) {
	d := MustParseDate("2024-01-05")
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2024-01-05"`, string(raw))

	var back Date
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, d, back)

	var scanned Date
	require.NoError(t, scanned.Scan(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, d, scanned)
}

func TestParseDateRejectsGarbage(t *testing.T) {
	_, err := ParseDate("05/01/2024")
	require.Error(t, err)
}

func TestNextAtRollsToTomorrow(t *testing.T) {
	cal := New(time.UTC).WithClock(func() time.Time {
		return time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC)
	})
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), cal.NextAt(0).UTC())
	assert.Equal(t, time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC), cal.NextAt(1).UTC())
}

func TestRangeInclusive(t *testing.T) {
	days := Range(MustParseDate("2024-01-30"), MustParseDate("2024-02-02"))
	require.Len(t, days, 4)
	assert.Equal(t, "2024-02-02", days[3].String())
	assert.Nil(t, Range(MustParseDate("2024-02-02"), MustParseDate("2024-01-30")))
}
