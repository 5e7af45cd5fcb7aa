package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodRange(t *testing.T) {
	start, end, err := PeriodRange("2023-24")
	require.NoError(t, err)

	assert.Equal(t, time.Date(2023, time.April, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, 2024, end.Year())
	assert.Equal(t, time.March, end.Month())
	assert.Equal(t, 31, end.Day())
}

func TestPeriodRange_CenturyRollover(t *testing.T) {
	start, _, err := PeriodRange("2099-00")
	require.NoError(t, err)
	assert.Equal(t, 2099, start.Year())
}

func TestPeriodRange_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		period string
	}{
		{"empty", ""},
		{"calendar year", "2023"},
		{"full end year", "2023-2024"},
		{"non-consecutive years", "2023-25"},
		{"reversed", "24-2023"},
		{"garbage", "FY23-24"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := PeriodRange(tt.period)
			assert.Error(t, err)
		})
	}
}

func TestPeriodForDate(t *testing.T) {
	tests := []struct {
		date   time.Time
		period string
	}{
		{time.Date(2023, time.April, 1, 0, 0, 0, 0, time.UTC), "2023-24"},
		{time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC), "2023-24"},
		{time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC), "2024-25"},
		{time.Date(2023, time.December, 15, 0, 0, 0, 0, time.UTC), "2023-24"},
		{time.Date(2023, time.January, 15, 0, 0, 0, 0, time.UTC), "2022-23"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.period, PeriodForDate(tt.date), "date %s", tt.date.Format("2006-01-02"))
	}
}

func TestPeriodRoundTrip(t *testing.T) {
	start, end, err := PeriodRange("2021-22")
	require.NoError(t, err)
	assert.Equal(t, "2021-22", PeriodForDate(start))
	assert.Equal(t, "2021-22", PeriodForDate(end))
}
