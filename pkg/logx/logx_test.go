package logx

import (
	"bytes"
	"strings"
	"testing"
)

// setupTestLogger sets up a bytes.Buffer as the log writer for testing.
func setupTestLogger() *bytes.Buffer {
	var buf bytes.Buffer
	logWriterLock.Lock()
	logWriter = &buf
	logWriterLock.Unlock()
	return &buf
}

// resetTestLogger resets the logger to default stderr.
func resetTestLogger() {
	logWriterLock.Lock()
	logWriter = nil
	logWriterLock.Unlock()
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("tool-call")

	if logger.GetComponent() != "tool-call" {
		t.Errorf("Expected component 'tool-call', got '%s'", logger.GetComponent())
	}
}

func TestLogFormat(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	logger := NewLogger("agent")
	logger.Info("Test message with %s", "formatting")

	output := buf.String()

	if !strings.Contains(output, "[agent]") {
		t.Errorf("Expected component in output, got: %s", output)
	}
	if !strings.Contains(output, "INFO") {
		t.Errorf("Expected log level in output, got: %s", output)
	}
	if !strings.Contains(output, "Test message with formatting") {
		t.Errorf("Expected formatted message in output, got: %s", output)
	}
}

func TestDebugDisabledByDefault(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	SetDebug(false, nil)
	logger := NewLogger("agent")
	logger.Debug("should not appear")

	if buf.Len() != 0 {
		t.Errorf("Expected no debug output when disabled, got: %s", buf.String())
	}
}

func TestDebugDomainFiltering(t *testing.T) {
	buf := setupTestLogger()
	defer func() {
		resetTestLogger()
		SetDebug(false, nil)
	}()

	SetDebug(true, []string{"chat"})

	NewLogger("agent").Debug("agent line")
	NewLogger("chat").Debug("chat line")

	output := buf.String()
	if strings.Contains(output, "agent line") {
		t.Errorf("Expected agent domain to be filtered out, got: %s", output)
	}
	if !strings.Contains(output, "chat line") {
		t.Errorf("Expected chat domain to pass the filter, got: %s", output)
	}

	if !IsDebugEnabledForDomain("chat") {
		t.Error("Expected chat domain to be enabled")
	}
	if IsDebugEnabledForDomain("agent") {
		t.Error("Expected agent domain to be disabled")
	}
}

func TestDebugAllDomainsWhenUnfiltered(t *testing.T) {
	defer SetDebug(false, nil)

	SetDebug(true, nil)
	if !IsDebugEnabledForDomain("anything") {
		t.Error("Expected all domains enabled when no filter is set")
	}
	if !IsDebugEnabled() {
		t.Error("Expected debug to be enabled")
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, "context"); err != nil {
		t.Errorf("Expected nil from Wrap(nil), got: %v", err)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	cause := Errorf("boom")
	wrapped := Wrap(cause, "loading config")

	if wrapped == nil {
		t.Fatal("Expected non-nil wrapped error")
	}
	if !strings.Contains(wrapped.Error(), "loading config: boom") {
		t.Errorf("Expected wrapped message, got: %s", wrapped.Error())
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("Expected error to be logged, got: %s", buf.String())
	}
}
