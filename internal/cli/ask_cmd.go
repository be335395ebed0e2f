package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"labagent/internal/agent"
	"labagent/internal/appstate"
	"labagent/internal/engine"
	"labagent/internal/models"
)

type askFlags struct {
	model        string
	maxToolCalls int
	maxNewTokens int
}

func (cc *cliContext) askCmd() *cobra.Command {
	var f askFlags
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question and stream the answer (tools included)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.loadConfig(cmd)
			if err != nil {
				return err
			}
			logw := io.Discard
			if cfg.Verbose {
				logw = cmd.ErrOrStderr()
			}
			st, err := cc.newState(cmd.Context(), cfg, logw)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := loadForSession(cmd.Context(), st, f.model); err != nil {
				return err
			}

			req := st.Request([]agent.Turn{{Role: engine.RoleUser, Content: strings.Join(args, " ")}}, f.maxNewTokens, nil)
			if cmd.Flags().Changed("max-tool-calls") {
				req.MaxToolCalls = f.maxToolCalls
			}
			events := st.Agent.Run(cmd.Context(), req)
			return renderEvents(events, cmd.OutOrStdout(), cmd.ErrOrStderr(), cc.flags.JSON)
		},
	}
	cmd.Flags().StringVar(&f.model, "model", "", "model to load (default: models.default)")
	cmd.Flags().IntVar(&f.maxToolCalls, "max-tool-calls", 0, "tool call bound for this question")
	cmd.Flags().IntVar(&f.maxNewTokens, "max-new-tokens", 0, "generation length per pass")
	return cmd
}

// loadForSession loads modelID, or the configured default, for the lifetime
// of this process.
func loadForSession(ctx context.Context, st *appstate.State, modelID string) error {
	id := strings.TrimSpace(modelID)
	if id == "" {
		id = strings.TrimSpace(st.Config.Models.Default)
	}
	if id == "" {
		return withExit(ExitModelUnavailable, errors.New("no model selected: pass --model or set LABAGENT_DEFAULT_MODEL"))
	}
	if err := st.Tracker.LoadModel(ctx, id); err != nil {
		if errors.Is(err, models.ErrNotDownloaded) {
			return withExit(ExitModelUnavailable, fmt.Errorf("%s is not downloaded; run: labagent models download %s", id, id))
		}
		return withExit(ExitModelUnavailable, err)
	}
	return nil
}

// renderEvents writes the answer to out. In JSON mode every event is one
// NDJSON line on out; otherwise tokens go to out and tool activity to errw.
func renderEvents(events <-chan agent.Event, out, errw io.Writer, jsonMode bool) error {
	s := newStyles(errw, jsonMode)
	enc := json.NewEncoder(out)
	var failure error
	wroteText := false

	for ev := range events {
		if jsonMode {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		} else {
			switch ev.Kind {
			case agent.KindToken:
				fmt.Fprint(out, ev.Text)
				wroteText = wroteText || ev.Text != ""
			case agent.KindStatus:
				fmt.Fprintln(errw, s.dim(ev.Text))
			case agent.KindToolCall:
				if ev.Tool != nil {
					raw, _ := json.Marshal(ev.Tool.Args)
					fmt.Fprintln(errw, s.Cyan.Render(ev.Tool.Name)+" "+s.dim(string(raw)))
				}
			}
		}
		if ev.Kind == agent.KindError {
			failure = errors.New(ev.Text)
		}
	}

	if wroteText {
		fmt.Fprintln(out)
	}
	if failure != nil {
		if failure.Error() == agent.NoModelText {
			return withExit(ExitModelUnavailable, failure)
		}
		return failure
	}
	return nil
}
