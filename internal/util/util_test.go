package util

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3
	notified := 0

	err := RetryNotify(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	}, func(int, error) { notified++ })

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
	if notified != maxAttempts-1 {
		t.Errorf("notify called %d times, want %d", notified, maxAttempts-1)
	}
}

func TestRetryPermanent(t *testing.T) {
	sentinel := errors.New("bad symbol")
	attempts := 0

	err := Retry(context.Background(), 5, time.Hour, func() error {
		attempts++
		return Permanent(sentinel)
	})

	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
	if attempts != 1 {
		t.Errorf("permanent error retried %d times", attempts)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(60)
	if !rl.Allow() {
		t.Fatal("first call should be allowed")
	}
	if rl.Allow() {
		t.Error("second immediate call should be throttled")
	}

	unlimited := NewRateLimiter(0)
	for i := 0; i < 10; i++ {
		if err := unlimited.Wait(context.Background()); err != nil {
			t.Fatalf("Wait on unlimited limiter: %v", err)
		}
	}
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	rl := NewRateLimiter(1)
	rl.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Error("Wait should fail on a cancelled context")
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, LogOptions{Level: "warn", Format: "text"}).Info("hidden")
	newLogger(&buf, LogOptions{Level: "warn", Format: "text"}).Warn("shown", "k", 1)
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, "msg=shown") {
		t.Errorf("text output missing record: %q", out)
	}

	buf.Reset()
	newLogger(&buf, LogOptions{Level: "debug"}).Debug("json")
	if !strings.Contains(buf.String(), `"msg":"json"`) {
		t.Errorf("json output missing record: %q", buf.String())
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestTradingCalendarMonthPositions(t *testing.T) {
	// Series starts mid-January and ends mid-February.
	dates := []time.Time{
		day(2024, 1, 29), day(2024, 1, 30), day(2024, 1, 31),
		day(2024, 2, 1), day(2024, 2, 2), day(2024, 2, 5),
	}
	cal := NewTradingCalendar(dates)

	if cal.Len() != 6 {
		t.Fatalf("Len = %d", cal.Len())
	}
	if got := cal.DayOfMonth(0); got != 1 {
		t.Errorf("DayOfMonth(0) = %d, want 1 (first row of partial month)", got)
	}
	if got := cal.DaysToMonthEnd(2); got != 1 {
		t.Errorf("DaysToMonthEnd(Jan 31) = %d, want 1", got)
	}
	if got := cal.DaysToMonthEnd(1); got != 2 {
		t.Errorf("DaysToMonthEnd(Jan 30) = %d, want 2", got)
	}
	if got := cal.DayOfMonth(4); got != 2 {
		t.Errorf("DayOfMonth(Feb 2) = %d, want 2", got)
	}
	// The last row of the series closes the partial month.
	if got := cal.DaysToMonthEnd(5); got != 1 {
		t.Errorf("DaysToMonthEnd(Feb 5) = %d, want 1", got)
	}
	if got := cal.TradingDaysInMonth(3); got != 3 {
		t.Errorf("TradingDaysInMonth(Feb) = %d, want 3", got)
	}
	if !cal.IsLastDay(5) || cal.IsLastDay(4) {
		t.Error("IsLastDay wrong")
	}
}

func TestTradingCalendarStartsPeriod(t *testing.T) {
	dates := []time.Time{
		day(2023, 12, 29), day(2024, 1, 2), day(2024, 1, 3),
		day(2024, 3, 29), day(2024, 4, 1), day(2024, 5, 2),
	}
	cal := NewTradingCalendar(dates)

	if !cal.StartsPeriod(0, PeriodYear) {
		t.Error("day 0 should start every period")
	}
	if !cal.StartsPeriod(1, PeriodYear) || cal.StartsPeriod(2, PeriodMonth) {
		t.Error("year/month boundary detection wrong")
	}
	if !cal.StartsPeriod(4, PeriodQuarter) || cal.StartsPeriod(5, PeriodQuarter) {
		t.Error("quarter boundary detection wrong")
	}
	if !cal.StartsPeriod(5, PeriodMonth) {
		t.Error("May should start a month")
	}
}
