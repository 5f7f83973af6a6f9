package storage

import "fmt"

// FormatTrainingTime renders accumulated training time the way the save
// browser shows it.
func FormatTrainingTime(seconds uint32) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
	}
}
