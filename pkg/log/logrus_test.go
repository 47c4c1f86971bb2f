package log

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestSimpleFormatterLayout(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "debug")

	logger.WithFields(map[string]interface{}{"client": "c1", "cursor": 2}).Infof("frame sent to %s", "viewer")

	line := strings.TrimSpace(buf.String())
	pattern := `^\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2}\.\d{6} \[INF\] frame sent to viewer client=c1 cursor=2$`
	if !regexp.MustCompile(pattern).MatchString(line) {
		t.Errorf("Unexpected log line: %q", line)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "warn")

	logger.Debugf("hidden")
	logger.Infof("hidden too")
	logger.Warnf("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected debug/info entries to be filtered, got %q", out)
	}
	if !strings.Contains(out, "[WAR] shown") {
		t.Errorf("Expected truncated warning level, got %q", out)
	}
}

func TestNewLogrusLoggerCreatesLogFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogrusLogger("info", dir)
	if err != nil {
		t.Fatalf("NewLogrusLogger failed: %v", err)
	}
	logger.Infof("hello")

	if _, err := os.Stat(filepath.Join(dir, "rover.log")); err != nil {
		t.Errorf("Expected rover.log in %s: %v", dir, err)
	}
}
