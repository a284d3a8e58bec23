package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test").WithPair("AB")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
	if v, ok := entry.Entry.Data["pair"]; !ok || v != "AB" {
		t.Fatalf("pair field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
	if err := log.Configure("report", "text", "stderr", 0); err != nil {
		t.Fatalf("report level rejected: %v", err)
	}
}

func TestWithEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestJSONFieldNames(t *testing.T) {
	log := Logger()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.WithComponent("json_test").WithError(errors.New("boom")).Info("hello")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not json: %v: %s", err, buf.String())
	}
	for _, key := range []string{"timestamp", "level", "message", "component", "error"} {
		if _, ok := line[key]; !ok {
			t.Errorf("missing %q in %v", key, line)
		}
	}
}

func TestWarnCounts(t *testing.T) {
	log := Logger()
	log.SetOutput(&bytes.Buffer{})
	log.WithComponent("count_test").Warn("one")
	log.WithComponent("count_test").Warn("two")
	log.WithComponent("count_test").Error("three")

	for _, c := range Counts() {
		if c.Component == "count_test" {
			if c.Warns != 2 || c.Errors != 1 {
				t.Fatalf("counts = %+v", c)
			}
			return
		}
	}
	t.Fatalf("count_test missing from %v", Counts())
}
