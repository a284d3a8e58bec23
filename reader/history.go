// Package reader loads recorded ticks for backtests and streams live ticks
// from a websocket feed.
package reader

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"pairflow/logger"
	"pairflow/models"
)

// maxLineSize bounds one JSON line; deep books make lines long.
const maxLineSize = 16 << 20

// LoadHistory reads JSON lines of ticks and groups them by pair, keeping
// file order. Blank lines are skipped. Ordering is not checked here.
func LoadHistory(r io.Reader) (map[string][]models.Tick, error) {
	out := make(map[string][]models.Tick)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var tick models.Tick
		if err := json.Unmarshal([]byte(text), &tick); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if tick.PairID == "" {
			return nil, fmt.Errorf("line %d: pair_id is required", line)
		}
		out[tick.PairID] = append(out[tick.PairID], tick)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return out, nil
}

// LoadHistoryFile opens path and loads it with LoadHistory.
func LoadHistoryFile(path string) (map[string][]models.Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	defer f.Close()

	history, err := LoadHistory(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	total := 0
	for _, ticks := range history {
		total += len(ticks)
	}
	logger.GetLogger().WithComponent("history").WithFields(logger.Fields{
		"path":  path,
		"pairs": len(history),
		"ticks": total,
	}).Info("history loaded")
	return history, nil
}
