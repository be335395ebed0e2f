package appstate

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"labagent/internal/agent"
	"labagent/internal/config"
	"labagent/internal/mcp/mcptest"
	"labagent/internal/models"
)

func testConfig(t *testing.T, mcpURL string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Models.Dir = t.TempDir()
	cfg.MCP.URL = mcpURL
	cfg.Engine.BaseURL = "http://127.0.0.1:1/v1"
	return cfg
}

func seedModel(t *testing.T, modelsDir, id string) {
	t.Helper()
	dir := models.LocalDir(modelsDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestStartupPrefetchesToolsAndLoadsDefaultModel(t *testing.T) {
	srv := mcptest.NewServer(
		mcptest.Tool{Name: "get_lab_results", Description: "Lab results"},
		mcptest.Tool{Name: "get_patient", Description: "Patient lookup"},
	)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.Models.Default = "Qwen/Qwen2.5-0.5B-Instruct"
	seedModel(t, cfg.Models.Dir, cfg.Models.Default)

	var logs bytes.Buffer
	st, err := New(context.Background(), cfg, Deps{Logger: log.New(&logs, "", 0)})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer st.Close()

	st.Startup(context.Background())

	if !strings.Contains(logs.String(), "[startup] MCP tools loaded: get_lab_results, get_patient") {
		t.Fatalf("missing tools log line:\n%s", logs.String())
	}
	if got := st.Engine.ModelID(); got != cfg.Models.Default {
		t.Fatalf("expected default model to be resident, got %q", got)
	}
	if cached, ok := st.Catalog.Cached(); !ok || len(cached) != 2 {
		t.Fatalf("expected catalog to be cached, got %v %v", cached, ok)
	}
}

func TestStartupToleratesMissingToolServerAndModel(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/stream")
	cfg.Models.Default = "org/absent"

	var logs bytes.Buffer
	st, err := New(context.Background(), cfg, Deps{Logger: log.New(&logs, "", 0)})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer st.Close()

	st.Startup(context.Background())

	out := logs.String()
	if !strings.Contains(out, "continuing without tools") {
		t.Fatalf("expected degraded tool log, got:\n%s", out)
	}
	if !strings.Contains(out, "org/absent not downloaded") {
		t.Fatalf("expected skipped auto-load log, got:\n%s", out)
	}
	if st.Engine.ModelID() != "" {
		t.Fatalf("no model should be resident")
	}
}

func TestRequestUsesConfiguredDefaults(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/stream")
	cfg.Generation.MaxToolCalls = 2
	st, err := New(context.Background(), cfg, Deps{Logger: log.New(&bytes.Buffer{}, "", 0)})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer st.Close()

	turns := []agent.Turn{{Role: "user", Content: "hi"}}
	req := st.Request(turns, 0, nil)
	if req.MaxNewTokens != 512 || req.Temperature != 0.7 || req.MaxToolCalls != 2 {
		t.Fatalf("unexpected defaults %#v", req)
	}

	temp := 0.1
	req = st.Request(turns, 64, &temp)
	if req.MaxNewTokens != 64 || req.Temperature != 0.1 {
		t.Fatalf("overrides not applied %#v", req)
	}
}
