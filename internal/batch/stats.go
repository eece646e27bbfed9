package batch

import (
	"fmt"
	"time"
)

// Stats is the progress accumulator for one batch run. It is an explicit
// value threaded through the runner, not process-global state.
type Stats struct {
	TotalChars     int
	ProcessedChars int

	// CharsPerSec is the throughput of the most recent chapter.
	CharsPerSec float64

	// Remaining estimates the time left at the current throughput.
	Remaining time.Duration
}

// advance records one completed chapter. chapterChars is the chapter's own
// text length; workChars includes any prepended intro and is what the
// throughput estimate is based on.
func (s *Stats) advance(chapterChars, workChars int, elapsed time.Duration) {
	s.ProcessedChars += chapterChars
	if s.ProcessedChars > s.TotalChars {
		s.ProcessedChars = s.TotalChars
	}

	if elapsed <= 0 {
		return
	}
	s.CharsPerSec = float64(workChars) / elapsed.Seconds()
	if s.CharsPerSec > 0 {
		remaining := float64(s.TotalChars-s.ProcessedChars) / s.CharsPerSec
		s.Remaining = time.Duration(remaining * float64(time.Second))
	}
}

// Percent returns the integer-truncated completion percentage.
func (s Stats) Percent() int {
	if s.TotalChars == 0 {
		return 0
	}
	return s.ProcessedChars * 100 / s.TotalChars
}

// FormatETA renders a duration as "00d 00h 03m 20s".
func FormatETA(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d.Seconds())
	days := secs / 86400
	secs %= 86400
	hours := secs / 3600
	secs %= 3600
	mins := secs / 60
	secs %= 60
	return fmt.Sprintf("%02dd %02dh %02dm %02ds", days, hours, mins, secs)
}
