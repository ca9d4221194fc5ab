package queue

import (
	"fmt"
	"time"
)

// Schedule computes when a periodic task runs next
type Schedule interface {
	// Next returns the first run time strictly after from
	Next(from time.Time) time.Time
	String() string
}

// Every runs at a fixed interval. Non-positive intervals are coerced
// to one minute.
func Every(interval time.Duration) Schedule {
	if interval <= 0 {
		interval = time.Minute
	}
	return fixedInterval{every: interval}
}

// HourlyAt runs once per hour at the given minute
func HourlyAt(minute int) Schedule {
	return hourlyAt{minute: clamp(minute, 0, 59)}
}

// DailyAt runs once per day at the given wall-clock time
func DailyAt(hour, minute int) Schedule {
	return dailyAt{hour: clamp(hour, 0, 23), minute: clamp(minute, 0, 59)}
}

// WeeklyOn runs once per week on the given weekday and wall-clock time
func WeeklyOn(weekday time.Weekday, hour, minute int) Schedule {
	return weeklyOn{
		weekday: weekday,
		hour:    clamp(hour, 0, 23),
		minute:  clamp(minute, 0, 59),
	}
}

// MonthlyOn runs once per month on the given day and wall-clock time.
// Days past the end of a month run on its last day instead.
func MonthlyOn(day, hour, minute int) Schedule {
	return monthlyOn{
		day:    clamp(day, 1, 31),
		hour:   clamp(hour, 0, 23),
		minute: clamp(minute, 0, 59),
	}
}

type fixedInterval struct {
	every time.Duration
}

func (s fixedInterval) Next(from time.Time) time.Time {
	return from.Add(s.every)
}

func (s fixedInterval) String() string {
	return fmt.Sprintf("every %v", s.every)
}

type hourlyAt struct {
	minute int
}

func (s hourlyAt) Next(from time.Time) time.Time {
	next := from.Truncate(time.Hour).Add(time.Duration(s.minute) * time.Minute)
	for !next.After(from) {
		next = next.Add(time.Hour)
	}
	return next
}

func (s hourlyAt) String() string {
	return fmt.Sprintf("hourly at :%02d", s.minute)
}

type dailyAt struct {
	hour   int
	minute int
}

func (s dailyAt) Next(from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, from.Location())
	for !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s dailyAt) String() string {
	return fmt.Sprintf("daily at %02d:%02d", s.hour, s.minute)
}

type weeklyOn struct {
	weekday time.Weekday
	hour    int
	minute  int
}

func (s weeklyOn) Next(from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, from.Location())
	for next.Weekday() != s.weekday || !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s weeklyOn) String() string {
	return fmt.Sprintf("weekly on %s at %02d:%02d", s.weekday, s.hour, s.minute)
}

type monthlyOn struct {
	day    int
	hour   int
	minute int
}

func (s monthlyOn) Next(from time.Time) time.Time {
	year, month := from.Year(), from.Month()
	day := min(s.day, daysInMonth(year, month))
	next := time.Date(year, month, day, s.hour, s.minute, 0, 0, from.Location())
	if !next.After(from) {
		year, month = nextMonth(year, month)
		day = min(s.day, daysInMonth(year, month))
		next = time.Date(year, month, day, s.hour, s.minute, 0, 0, from.Location())
	}
	return next
}

func (s monthlyOn) String() string {
	return fmt.Sprintf("monthly on day %d at %02d:%02d", s.day, s.hour, s.minute)
}

func nextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}

func daysInMonth(year int, month time.Month) int {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	return firstOfNext.AddDate(0, 0, -1).Day()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
