// Package chat is the interactive terminal client for the agent.
package chat

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"labagent/internal/agent"
	"labagent/internal/mcp"
	"labagent/internal/ui"
)

// Runner starts one agentic turn.
type Runner interface {
	Run(ctx context.Context, req agent.Request) <-chan agent.Event
}

type Options struct {
	ModelID string
	MCPURL  string
	// Request turns the conversation into a request with the configured
	// generation settings.
	Request func(turns []agent.Turn) agent.Request
	// Tools backs the /tools command; nil hides it.
	Tools func(ctx context.Context) []mcp.ToolDescriptor
}

// Run blocks until the user quits.
func Run(ctx context.Context, runner Runner, opts Options) error {
	m := newModel(ctx, runner, opts)
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

func banner(opts Options) []string {
	model := opts.ModelID
	if model == "" {
		model = "(none loaded)"
	}
	lines := []string{
		ui.Brand.Render("labagent chat"),
		ui.Info("model:", model),
	}
	if opts.MCPURL != "" {
		lines = append(lines, ui.Info("tools:", opts.MCPURL))
	}
	lines = append(lines, ui.Dim("Type a question, /help for commands, esc to stop a reply."))
	return []string{strings.Join(lines, "\n")}
}

func formatHelp() string {
	var b strings.Builder
	b.WriteString(ui.Brand.Render("Commands:\n"))
	fmt.Fprintf(&b, "  %s  %s\n", ui.Keyword.Render("/help"), ui.Muted.Render("Show help"))
	fmt.Fprintf(&b, "  %s  %s\n", ui.Keyword.Render("/tools"), ui.Muted.Render("List the lab tools the model can call"))
	fmt.Fprintf(&b, "  %s  %s\n", ui.Keyword.Render("/clear"), ui.Muted.Render("Start a new conversation"))
	fmt.Fprintf(&b, "  %s  %s\n", ui.Keyword.Render("/quit"), ui.Muted.Render("Exit"))
	b.WriteString(ui.Dim("  Any other text is sent to the model"))
	return b.String()
}

func formatTools(tools []mcp.ToolDescriptor) string {
	if len(tools) == 0 {
		return ui.Dim("(no tools available)")
	}
	var b strings.Builder
	for _, t := range tools {
		desc, _, _ := strings.Cut(t.Description, "\n")
		fmt.Fprintf(&b, "  %s %s\n", ui.Cyan.Render(t.Name), ui.Muted.Render(desc))
	}
	return strings.TrimRight(b.String(), "\n")
}
