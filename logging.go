package loom

import "github.com/kashari/golog"

// initFileLogging redirects golog's output to path, logging the outcome
// either way.
func initFileLogging(path string) {
	if err := golog.Init(path); err != nil {
		golog.Error("loom: failed to open log file {}: {}", path, err)
		return
	}
	golog.Info("loom: logging to file {}", path)
}
