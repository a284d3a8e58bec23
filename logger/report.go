package logger

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type levelStat struct {
	warns  int64
	errors int64
}

var components sync.Map // map[string]*levelStat

func statFor(component string) *levelStat {
	v, _ := components.LoadOrStore(component, &levelStat{})
	return v.(*levelStat)
}

func recordWarn(component string) {
	atomic.AddInt64(&statFor(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&statFor(component).errors, 1)
}

// ComponentCounts is the number of warnings and errors a component logged.
type ComponentCounts struct {
	Component string
	Warns     int64
	Errors    int64
}

// Counts returns per-component warning and error totals sorted by component.
func Counts() []ComponentCounts {
	var out []ComponentCounts
	components.Range(func(k, v any) bool {
		s := v.(*levelStat)
		out = append(out, ComponentCounts{
			Component: k.(string),
			Warns:     atomic.LoadInt64(&s.warns),
			Errors:    atomic.LoadInt64(&s.errors),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out
}

// StartReport logs warning/error counts and memory usage every interval
// until ctx is done.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(log)
			}
		}
	}()
}

func logReport(log *Log) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	counts := Fields{}
	for _, c := range Counts() {
		counts[c.Component] = map[string]int64{"warns": c.Warns, "errors": c.Errors}
	}

	log.WithComponent("report").WithFields(Fields{
		"goroutines":   runtime.NumGoroutine(),
		"heap_alloc":   mem.HeapAlloc,
		"num_gc":       mem.NumGC,
		"level_counts": counts,
	}).Info("report")
}
