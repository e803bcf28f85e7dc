package queue

import (
	"strconv"
	"time"

	"github.com/nshaw/qdm/internal/common"
)

// withinWindow reports whether now falls inside sched's weekly admission
// window. A nil Schedule, or one with no Days, always admits. StartHHMM
// may be greater than EndHHMM, meaning the window wraps past midnight
// (e.g. "22:00"-"06:00"), in which case today's weekday gate applies to
// the start side of the window and the following day to the end side.
func withinWindow(sched *common.Schedule, now time.Time) bool {
	if sched == nil || len(sched.Days) == 0 {
		return true
	}

	start, okStart := parseHHMM(sched.StartHHMM)
	end, okEnd := parseHHMM(sched.EndHHMM)
	if !okStart || !okEnd {
		return true
	}

	minutesNow := now.Hour()*60 + now.Minute()
	weekday := int(now.Weekday())

	if start <= end {
		return dayAllowed(sched.Days, weekday) && minutesNow >= start && minutesNow <= end
	}

	// Wraps past midnight: admitted either from start..24:00 on an allowed
	// day, or from 00:00..end on the day after an allowed day.
	if minutesNow >= start {
		return dayAllowed(sched.Days, weekday)
	}
	if minutesNow <= end {
		return dayAllowed(sched.Days, (weekday+6)%7)
	}
	return false
}

func dayAllowed(days []int, weekday int) bool {
	for _, d := range days {
		if d == weekday {
			return true
		}
	}
	return false
}

func parseHHMM(s string) (minutes int, ok bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	h, err1 := strconv.Atoi(s[0:2])
	m, err2 := strconv.Atoi(s[3:5])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
