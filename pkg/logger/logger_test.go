package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerInit(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()

	if Get() == nil {
		t.Fatal("logger is nil after initialization")
	}
	Get().Info(context.Background(), "test message", String("k", "v"))
}

func TestLoggerJSONWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWith(Options{Format: "json", Level: "debug", Output: &buf}); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer func() { _ = Init() }()

	ctx := WithRequestID(context.Background())
	id := RequestID(ctx)
	if id == "" {
		t.Fatal("expected a request id")
	}
	if again := WithRequestID(ctx); RequestID(again) != id {
		t.Fatal("request id must be stable once set")
	}

	Named("router").With(String("task", "reviewer_routing")).Debug(ctx, "routed", Int("candidates", 3))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if rec["msg"] != "routed" {
		t.Errorf("msg = %v", rec["msg"])
	}
	group, ok := rec["router"].(map[string]any)
	if !ok {
		t.Fatalf("expected router group in %v", rec)
	}
	if group["request_id"] != id || group["task"] != "reviewer_routing" {
		t.Errorf("unexpected group %v", group)
	}
	if src, _ := group["source"].(string); !strings.Contains(src, "logger_test.go") {
		t.Errorf("source = %q", src)
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWith(Options{Level: "warn", Output: &buf}); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer func() { _ = Init() }()

	Get().Info(context.Background(), "hidden")
	Get().Warn(context.Background(), "shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}

	if err := SetLevelString("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if err := InitWith(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNopAndFor(t *testing.T) {
	Nop().Error(context.Background(), "discarded")
	if For("x") == nil {
		t.Fatal("For must never return nil")
	}
}
