package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"labagent/internal/appstate"
	"labagent/internal/models"
	"labagent/internal/protocol"
)

// statusView is the NDJSON shape of a download status.
type statusView struct {
	ModelID      string  `json:"model_id"`
	Status       string  `json:"status"`
	Progress     float64 `json:"progress"`
	DownloadedGB float64 `json:"downloaded_gb"`
	TotalGB      float64 `json:"total_gb"`
	Error        string  `json:"error,omitempty"`
	Loaded       bool    `json:"loaded"`
}

func toStatusView(st models.DownloadState) statusView {
	return statusView{
		ModelID:      st.ModelID,
		Status:       st.Status,
		Progress:     st.Progress(),
		DownloadedGB: st.DownloadedGB(),
		TotalGB:      st.TotalGB(),
		Error:        st.Error,
		Loaded:       st.Loaded,
	}
}

func (cc *cliContext) modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Download, inspect and remove local models",
	}
	cmd.AddCommand(cc.modelsDownloadCmd(), cc.modelsStatusCmd(), cc.modelsListCmd(), cc.modelsRemoveCmd())
	return cmd
}

// withState loads config and state for a short-lived command.
func (cc *cliContext) withState(cmd *cobra.Command, fn func(st *appstate.State) error) error {
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
	return fn(st)
}

func (cc *cliContext) modelsDownloadCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "download <model-id>",
		Short: "Download a model from the hub and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.withState(cmd, func(st *appstate.State) error {
				id := args[0]
				out := cmd.OutOrStdout()
				if st.Tracker.Downloaded(id) {
					return cc.printStatus(out, st.Tracker.Status(id))
				}
				st.Tracker.StartDownload(id)
				final, err := waitForDownload(cmd.Context(), st.Tracker, id, interval, func(ds models.DownloadState) {
					cc.printProgress(out, ds)
				})
				if err != nil {
					return err
				}
				if err := cc.printStatus(out, final); err != nil {
					return err
				}
				if final.Status == protocol.StatusError {
					return fmt.Errorf("download %s failed: %s", id, final.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "poll", 500*time.Millisecond, "progress refresh interval")
	return cmd
}

// waitForDownload polls the tracker until id reaches ready or error.
func waitForDownload(ctx context.Context, tr *models.Tracker, id string, interval time.Duration, report func(models.DownloadState)) (models.DownloadState, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	lastPct := -1.0
	for {
		ds := tr.Status(id)
		switch ds.Status {
		case protocol.StatusReady, protocol.StatusError:
			return ds, nil
		}
		if pct := ds.Progress(); pct != lastPct {
			lastPct = pct
			report(ds)
		}
		select {
		case <-ctx.Done():
			return ds, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (cc *cliContext) printProgress(w io.Writer, ds models.DownloadState) {
	if cc.flags.JSON {
		_ = json.NewEncoder(w).Encode(toStatusView(ds))
		return
	}
	s := newStyles(w, false)
	fmt.Fprintf(w, "%s %5.1f%%  %.2f / %.2f GB\n", s.progressBar(ds.Progress(), 24), ds.Progress(), ds.DownloadedGB(), ds.TotalGB())
}

func (cc *cliContext) printStatus(w io.Writer, ds models.DownloadState) error {
	if cc.flags.JSON {
		return json.NewEncoder(w).Encode(toStatusView(ds))
	}
	s := newStyles(w, false)
	fmt.Fprintln(w, s.sectionHeader(ds.ModelID))
	fmt.Fprintln(w, s.kv("Status", ds.Status))
	fmt.Fprintln(w, s.kv("Progress", fmt.Sprintf("%.1f%%", ds.Progress())))
	if ds.BytesTotal > 0 {
		fmt.Fprintln(w, s.kv("Size", fmt.Sprintf("%.2f GB", ds.TotalGB())))
	}
	if ds.Error != "" {
		fmt.Fprintln(w, s.kv("Error", s.Red.Render(ds.Error)))
	}
	return nil
}

func (cc *cliContext) modelsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <model-id>",
		Short: "Show a model's download status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.withState(cmd, func(st *appstate.State) error {
				return cc.printStatus(cmd.OutOrStdout(), st.Tracker.Status(args[0]))
			})
		},
	}
}

func (cc *cliContext) modelsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List downloaded models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cc.withState(cmd, func(st *appstate.State) error {
				list, err := st.Tracker.List(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if cc.flags.JSON {
					enc := json.NewEncoder(out)
					for _, m := range list {
						if err := enc.Encode(map[string]any{
							"model_id":      m.ModelID,
							"size_gb":       m.SizeGB(),
							"downloaded_at": m.DownloadedAt,
							"dir":           m.Dir,
						}); err != nil {
							return err
						}
					}
					return nil
				}
				s := newStyles(out, false)
				if len(list) == 0 {
					fmt.Fprintln(out, s.dim("No models downloaded in "+st.Tracker.ModelsDir()))
					return nil
				}
				for _, m := range list {
					when := "-"
					if m.DownloadedAt > 0 {
						when = time.Unix(m.DownloadedAt, 0).Format("2006-01-02 15:04")
					}
					fmt.Fprintf(out, "%-48s %8.2f GB  %s\n", m.ModelID, m.SizeGB(), s.dim(when))
				}
				return nil
			})
		},
	}
}

func (cc *cliContext) modelsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <model-id>",
		Aliases: []string{"remove"},
		Short:   "Delete a downloaded model",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.withState(cmd, func(st *appstate.State) error {
				if err := st.Tracker.Remove(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Removed", args[0])
				return nil
			})
		},
	}
}
