package mcptest

import (
	"context"
	"testing"

	"labagent/internal/mcp"
)

type labQuery struct {
	PatientID string `json:"patient_id" jsonschema:"description=Patient identifier"`
	Limit     int    `json:"limit,omitempty"`
}

func TestSchemaForFeedsToolParams(t *testing.T) {
	srv := NewServer(Tool{
		Name:    "get_lab_results",
		Schema:  SchemaFor(labQuery{}),
		Handler: func(map[string]any) (string, error) { return "ok", nil },
	})
	defer srv.Close()

	tools, err := mcp.New(srv.URL, "test", false).ListTools(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("expected one tool, got %d", len(tools))
	}
	want := []mcp.ParamSpec{
		{Name: "patient_id", Type: "string", Required: true},
		{Name: "limit", Type: "integer", Required: false},
	}
	got := tools[0].Params
	if len(got) != len(want) {
		t.Fatalf("unexpected params %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("param %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}
