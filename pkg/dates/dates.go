// Package dates resolves the forum's publish-time strings into absolute
// instants. The source mixes relative phrasing ("今天 12:34", "3天前") with
// absolute dates, all relative to the capture time.
package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	clockRe    = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	relativeRe = regexp.MustCompile(`(\d+)(小时|分钟|天|周|月)前`)
	yymdRe     = regexp.MustCompile(`^\d{2}-\d{1,2}-\d{1,2}\s+\d{1,2}:\d{2}`)
	mdRe       = regexp.MustCompile(`^\d{1,2}-\d{1,2}\s+\d{1,2}:\d{2}`)
	ymdRe      = regexp.MustCompile(`^\d{4}-\d{1,2}-\d{1,2}`)
)

// ResolveTimestamp parses a raw publish-time string against the capture
// instant. Supported forms:
//
//	今天 12:34 / today 12:34
//	昨天 14:32 / yesterday 14:32
//	前天 10:20
//	24-12-20 09:45        (YY-MM-DD HH:MM)
//	10-31 20:56           (MM-DD HH:MM, year inferred)
//	2025-01-01 [12:00[:05]]
//	N分钟前 / N小时前 / N天前 / N周前 / N月前
//
// A zero time plus an error is returned when the string matches none of
// them; callers decide whether that downgrades to an out-of-range skip.
func ResolveTimestamp(raw string, capture time.Time) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty publish time")
	}

	switch {
	case strings.HasPrefix(s, "今天"), strings.HasPrefix(strings.ToLower(s), "today"):
		return atClock(s, capture)
	case strings.HasPrefix(s, "昨天"), strings.HasPrefix(strings.ToLower(s), "yesterday"):
		return atClock(s, capture.AddDate(0, 0, -1))
	case strings.HasPrefix(s, "前天"):
		return atClock(s, capture.AddDate(0, 0, -2))
	case yymdRe.MatchString(s):
		return parseShortYear(s)
	case mdRe.MatchString(s):
		return parseMonthDay(s, capture)
	case ymdRe.MatchString(s):
		return parseAbsolute(s)
	}

	if m := relativeRe.FindStringSubmatch(s); m != nil {
		amount, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "分钟":
			return capture.Add(-time.Duration(amount) * time.Minute), nil
		case "小时":
			return capture.Add(-time.Duration(amount) * time.Hour), nil
		case "天":
			return capture.AddDate(0, 0, -amount), nil
		case "周":
			return capture.AddDate(0, 0, -7*amount), nil
		case "月":
			// Months approximated as 30 days, matching source behavior
			return capture.AddDate(0, 0, -30*amount), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized publish time %q", raw)
}

// atClock rebases day to the HH:MM found in s, or midnight-less day start
// when no clock is present.
func atClock(s string, day time.Time) (time.Time, error) {
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("missing clock in %q", s)
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return time.Time{}, fmt.Errorf("invalid clock in %q", s)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location()), nil
}

// parseShortYear handles "YY-MM-DD HH:MM", mapping two-digit years to 20xx.
func parseShortYear(s string) (time.Time, error) {
	t, err := time.ParseInLocation("06-1-2 15:04", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid short-year date %q: %w", s, err)
	}
	return t, nil
}

// parseMonthDay handles "MM-DD HH:MM". The year is the capture year, or the
// previous one when the month lies ahead of the capture month.
func parseMonthDay(s string, capture time.Time) (time.Time, error) {
	fields := strings.Fields(s)
	datePart := strings.Split(fields[0], "-")
	timePart := strings.Split(fields[1], ":")

	month, _ := strconv.Atoi(datePart[0])
	day, _ := strconv.Atoi(datePart[1])
	hour, _ := strconv.Atoi(timePart[0])
	minute, _ := strconv.Atoi(timePart[1])

	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 {
		return time.Time{}, fmt.Errorf("invalid month-day date %q", s)
	}

	year := capture.Year()
	if month > int(capture.Month()) {
		year--
	}
	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, capture.Location()), nil
}

// parseAbsolute handles full "YYYY-MM-DD" dates with optional clock.
func parseAbsolute(s string) (time.Time, error) {
	for _, layout := range []string{"2006-1-2 15:04:05", "2006-1-2 15:04", "2006-1-2"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid absolute date %q", s)
}

// InRange reports whether t lies within [start, end], both inclusive.
// A zero start means no lower bound; a zero end means "now".
func InRange(t, start, end time.Time) bool {
	if t.IsZero() {
		return false
	}
	if end.IsZero() {
		end = time.Now()
	}
	if !start.IsZero() && t.Before(start) {
		return false
	}
	return !t.After(end)
}
