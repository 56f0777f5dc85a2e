package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeDate(t *testing.T) {
	got, ok := ParseTime("2024-02-25")
	if !ok {
		t.Fatalf("expected ok")
	}
	if !got.Equal(time.Date(2024, 2, 25, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got := ParseTimeDefault("", def)
	if !got.Equal(def) {
		t.Fatalf("expected default")
	}
}

func TestAddMonthsClamped(t *testing.T) {
	cases := []struct {
		in   time.Time
		n    int
		want time.Time
	}{
		{time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), -1, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{time.Date(2023, 5, 31, 0, 0, 0, 0, time.UTC), -3, time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), -3, time.Date(2023, 10, 15, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), 2, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		if got := AddMonthsClamped(c.in, c.n); !got.Equal(c.want) {
			t.Fatalf("AddMonthsClamped(%v, %d) = %v, want %v", c.in, c.n, got, c.want)
		}
	}
}

func TestTruncateHour(t *testing.T) {
	in := time.Date(2024, 6, 1, 14, 37, 12, 999, time.UTC)
	if got := TruncateHour(in); !got.Equal(time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected %v", got)
	}
}

func TestStepDates(t *testing.T) {
	start := time.Date(2024, 2, 25, 0, 0, 0, 0, time.UTC)
	got := StepDates(start, 8, 7)
	if len(got) != 8 {
		t.Fatalf("expected 8 dates, got %d", len(got))
	}
	if !got[0].Equal(time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("first date %v", got[0])
	}
	if !got[7].Equal(start.AddDate(0, 0, 56)) {
		t.Fatalf("last date %v", got[7])
	}
}

func TestBackoffWithJitterBounds(t *testing.T) {
	min, max := 100*time.Millisecond, time.Second
	for attempt := 1; attempt <= 10; attempt++ {
		d := BackoffWithJitter(min, max, attempt)
		if d <= 0 || d > max {
			t.Fatalf("attempt %d: delay %v out of range", attempt, d)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" 370, ,10,")
	if len(got) != 2 || got[0] != "370" || got[1] != "10" {
		t.Fatalf("unexpected %v", got)
	}
	if SplitList("") != nil {
		t.Fatalf("expected nil")
	}
}
