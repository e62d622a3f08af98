package engine

import "time"

func now() time.Time { return time.Now() }

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
