package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParse(t *testing.T) {
	tests := []struct {
		key         string
		granularity string
		start, end  time.Time
	}{
		{"2024-02", Monthly, date(2024, 2, 1), date(2024, 2, 29)},
		{"2023-12", Monthly, date(2023, 12, 1), date(2023, 12, 31)},
		{"2024Q1", Quarterly, date(2024, 1, 1), date(2024, 3, 31)},
		{"2024Q4", Quarterly, date(2024, 10, 1), date(2024, 12, 31)},
		{"2024", Annual, date(2024, 1, 1), date(2024, 12, 31)},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			p, err := Parse(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.granularity, p.Granularity)
			assert.Equal(t, tt.start, p.Start)
			assert.Equal(t, tt.end, p.End)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, key := range []string{"", "2024-13", "2024Q5", "24-01", "2024-1", "2024q1"} {
		_, err := Parse(key)
		assert.ErrorIs(t, err, ErrInvalidPeriodKey, key)
	}
}

func TestContains(t *testing.T) {
	p, err := Parse("2024Q1")
	require.NoError(t, err)
	assert.True(t, p.Contains(time.Date(2024, 3, 31, 23, 59, 0, 0, time.UTC)))
	assert.False(t, p.Contains(date(2024, 4, 1)))
}

func TestDueDate(t *testing.T) {
	monthly, _ := Parse("2024-01")
	quarterly, _ := Parse("2024Q1")
	annual, _ := Parse("2023")

	assert.Equal(t, date(2024, 2, 29), monthly.DueDate(Monthly, 31), "clamped to month length")
	assert.Equal(t, date(2024, 2, 15), monthly.DueDate(Monthly, 15))
	assert.Equal(t, date(2024, 4, 30), quarterly.DueDate(Quarterly, 0), "0 means last day")
	assert.Equal(t, date(2024, 3, 31), annual.DueDate(Annual, 0))
}

func TestKeyFor(t *testing.T) {
	d := date(2024, 8, 14)
	assert.Equal(t, "2024-08", KeyFor(d, Monthly))
	assert.Equal(t, "2024Q3", KeyFor(d, Quarterly))
	assert.Equal(t, "2024", KeyFor(d, Annual))
}
