package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sandboxd/pkg/utils/contextkey"

	"go.uber.org/zap"
)

func TestSyncWithoutInit(t *testing.T) {
	prev := globalLogger
	globalLogger = nil
	defer func() { globalLogger = prev }()

	if err := Sync(); err != nil {
		t.Fatalf("Sync before Init: %v", err)
	}
	// the other global helpers must be no-ops too
	Info(context.Background(), "dropped")
	if zl := WithFields(context.Background()); zl == nil {
		t.Fatal("WithFields returned nil logger")
	}
}

func TestInitAndGlobalSync(t *testing.T) {
	prev := globalLogger
	defer func() { globalLogger = prev }()

	path := filepath.Join(t.TempDir(), "controlplane.log")
	if err := Init(Config{Level: "info", Format: "json", OutputPath: path}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	ctx := context.WithValue(context.Background(), contextkey.TraceID, "trace-1")
	Info(ctx, "environment status", zap.String("status", "running"))

	if err := Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "environment status") || !strings.Contains(out, "trace-1") {
		t.Fatalf("log output missing fields: %s", out)
	}
}
