package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// Frames from these packages are never reported as the caller.
var skippedCallers = []string{"sirupsen/logrus", "pairflow/logger"}

// callerHook points entry.Caller at the first frame outside logrus and
// this package's wrappers.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(6, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !isSkipped(frame.Function) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

func isSkipped(fn string) bool {
	for _, s := range skippedCallers {
		if strings.Contains(fn, s) {
			return true
		}
	}
	return false
}
