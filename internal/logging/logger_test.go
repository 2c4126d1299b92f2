// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
)

// decodeLine parses one JSON log line into a generic map.
func decodeLine(t *testing.T, line string) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("Output is not valid JSON: %v\nOutput: %s", err, line)
	}
	return entry
}

// TestInit verifies logger initialization.
func TestInit(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, LevelInfo)

	logger := Get()
	if logger == nil {
		t.Fatal("Get() returned nil after Init()")
	}
}

// TestInit_idempotent verifies Init is idempotent.
func TestInit_idempotent(t *testing.T) {
	// Reset global logger for this test
	global = nil
	once = *new(sync.Once)

	var buf1 bytes.Buffer
	Init(&buf1, LevelInfo)

	firstLogger := Get()

	// Second init with different parameters should be ignored
	var buf2 bytes.Buffer
	Init(&buf2, LevelDebug)

	if Get() != firstLogger {
		t.Error("Second Init() should be ignored, different logger returned")
	}

	Info("after second init")
	if buf1.Len() == 0 {
		t.Error("Output should still go to the first writer")
	}
	if buf2.Len() != 0 {
		t.Error("Second writer should receive nothing")
	}
}

// TestGet_default verifies default logger creation without Init.
func TestGet_default(t *testing.T) {
	global = nil
	once = *new(sync.Once)

	logger := Get()
	if logger == nil {
		t.Fatal("Get() returned nil without Init()")
	}
}

// TestLogger_Info verifies info logging produces a JSON entry.
func TestLogger_Info(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, LevelInfo)

	logger.Info("info message", map[string]interface{}{"key": "value"})

	entry := decodeLine(t, strings.TrimSpace(buf.String()))

	if entry["level"] != "info" {
		t.Errorf("level = %v, want 'info'", entry["level"])
	}
	if entry["msg"] != "info message" {
		t.Errorf("msg = %v, want 'info message'", entry["msg"])
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want 'value'", entry["key"])
	}
	if entry["time"] == nil {
		t.Error("time field should be present")
	}
}

// TestLogger_Error verifies error logging includes the error field.
func TestLogger_Error(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, LevelInfo)

	logger.Error("error occurred", io.ErrUnexpectedEOF)

	entry := decodeLine(t, strings.TrimSpace(buf.String()))

	if entry["level"] != "error" {
		t.Errorf("level = %v, want 'error'", entry["level"])
	}
	errField, _ := entry["error"].(string)
	if !strings.Contains(errField, io.ErrUnexpectedEOF.Error()) {
		t.Errorf("error field should contain error details, got: %q", errField)
	}
}

// TestLogger_filtering verifies minimum level filtering.
func TestLogger_filtering(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, LevelWarn)

	// Below minimum level, should not log
	logger.Debug("debug message")
	logger.Info("info message")

	// At or above minimum level
	logger.Warn("warn message")
	logger.Error("error message", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 log lines, got %d", len(lines))
	}

	first := decodeLine(t, lines[0])
	if first["level"] != "warning" {
		t.Errorf("First log level = %v, want 'warning'", first["level"])
	}

	second := decodeLine(t, lines[1])
	if second["level"] != "error" {
		t.Errorf("Second log level = %v, want 'error'", second["level"])
	}
}

// TestLogger_noDebug verifies debug messages are filtered at INFO level.
func TestLogger_noDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, LevelInfo)

	logger.Debug("debug message")

	if buf.String() != "" {
		t.Error("Debug() should not log when minLevel is INFO")
	}
}

// TestLogger_contextMerging verifies multiple context maps merge, last wins.
func TestLogger_contextMerging(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, LevelInfo)

	logger.Info("message",
		map[string]interface{}{"key1": "value1"},
		map[string]interface{}{"key2": "value2"},
		map[string]interface{}{"key1": "overridden"},
	)

	entry := decodeLine(t, strings.TrimSpace(buf.String()))

	if entry["key1"] != "overridden" {
		t.Errorf("key1 = %v, want 'overridden'", entry["key1"])
	}
	if entry["key2"] != "value2" {
		t.Errorf("key2 = %v, want 'value2'", entry["key2"])
	}
}

// TestLogger_WithComponent verifies component tagging.
func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, LevelInfo)

	logger.WithComponent("queue").Info("enqueued")

	entry := decodeLine(t, strings.TrimSpace(buf.String()))
	if entry["component"] != "queue" {
		t.Errorf("component = %v, want 'queue'", entry["component"])
	}

	// Base logger is untouched
	buf.Reset()
	logger.Info("plain")
	entry = decodeLine(t, strings.TrimSpace(buf.String()))
	if _, ok := entry["component"]; ok {
		t.Error("base logger should not carry component field")
	}
}

// TestLogger_concurrentLogging verifies concurrent logging is safe.
func TestLogger_concurrentLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, LevelInfo)

	var wg sync.WaitGroup
	iterations := 100

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				logger.Info("message", map[string]interface{}{"goroutine": id})
			}
		}(i)
	}

	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	expectedLines := 10 * iterations
	if len(lines) != expectedLines {
		t.Errorf("Expected %d log lines, got %d", expectedLines, len(lines))
	}

	for i, line := range lines {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Errorf("Line %d is not valid JSON: %v", i, err)
		}
	}
}

// TestGlobalFunctions verifies the package-level convenience functions.
func TestGlobalFunctions(t *testing.T) {
	var buf bytes.Buffer
	global = nil
	once = *new(sync.Once)
	Init(&buf, LevelDebug)

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message", io.ErrUnexpectedEOF)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("Expected 4 log lines, got %d", len(lines))
	}

	wantLevels := []string{"debug", "info", "warning", "error"}
	for i, want := range wantLevels {
		entry := decodeLine(t, lines[i])
		if entry["level"] != want {
			t.Errorf("Line %d level = %v, want %q", i, entry["level"], want)
		}
	}
}
