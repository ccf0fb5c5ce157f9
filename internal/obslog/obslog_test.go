package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARNING": zapcore.WarnLevel,
		" error ": zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "gamelog.log")
	logger, err := New(Options{Level: "info", Format: "json", ToFile: true, File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("gamelog_test_event")
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(raw), `"msg":"gamelog_test_event"`) {
		t.Fatalf("unexpected log content: %s", raw)
	}
}

func TestInitReplacesGlobal(t *testing.T) {
	before := L()
	cleanup, err := Init(Options{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer cleanup()
	if L() == before {
		t.Fatal("global logger not replaced")
	}
	if L().Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("info should be disabled at error level")
	}
}
