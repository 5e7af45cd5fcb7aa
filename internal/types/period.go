package types

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var periodPattern = regexp.MustCompile(`^(\d{4})-(\d{2})$`)

// PeriodRange converts a fiscal-year label like "2023-24" into its inclusive
// date range (1 April to 31 March). The label is validated strictly so that a
// run can never silently operate on a malformed period.
func PeriodRange(period string) (start, end time.Time, err error) {
	m := periodPattern.FindStringSubmatch(period)
	if m == nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid period %q, expected format YYYY-YY", period)
	}

	startYear, _ := strconv.Atoi(m[1])
	endSuffix, _ := strconv.Atoi(m[2])
	if (startYear+1)%100 != endSuffix {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid period %q, years are not consecutive", period)
	}

	start = time.Date(startYear, time.April, 1, 0, 0, 0, 0, time.UTC)
	end = time.Date(startYear+1, time.March, 31, 23, 59, 59, 0, time.UTC)
	return start, end, nil
}

// PeriodForDate returns the fiscal-year label containing the given date.
func PeriodForDate(t time.Time) string {
	year := t.Year()
	if t.Month() < time.April {
		year--
	}
	return fmt.Sprintf("%04d-%02d", year, (year+1)%100)
}
