package clock

import (
	"testing"
	"time"
)

func TestDaysAgo(t *testing.T) {
	// 01:30 in UTC+3 is still the previous day in UTC
	loc := time.FixedZone("UTC+3", 3*60*60)
	c := Fixed(time.Date(2026, 3, 1, 1, 30, 0, 0, loc))

	tests := []struct {
		days int
		want string
	}{
		{0, "2026-02-28"},
		{2, "2026-02-26"},
		{3, "2026-02-25"},
	}

	for _, tt := range tests {
		got := DaysAgo(c, tt.days).Format("2006-01-02")
		if got != tt.want {
			t.Errorf("DaysAgo(%d) = %s, want %s", tt.days, got, tt.want)
		}
	}
}
