package cli

import (
	"errors"
	"io"

	"github.com/spf13/cobra"

	"labagent/internal/agent"
	"labagent/internal/chat"
)

func (cc *cliContext) chatCmd() *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with the agent in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !IsTTY() {
				return errors.New("chat needs a terminal; use 'labagent ask' for scripts")
			}
			cfg, err := cc.loadConfig(cmd)
			if err != nil {
				return err
			}
			// Logs would tear the alternate screen.
			st, err := cc.newState(cmd.Context(), cfg, io.Discard)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := loadForSession(cmd.Context(), st, model); err != nil {
				return err
			}
			return chat.Run(cmd.Context(), st.Agent, chat.Options{
				ModelID: st.Engine.ModelID(),
				MCPURL:  cfg.MCP.URL,
				Request: func(turns []agent.Turn) agent.Request {
					return st.Request(turns, 0, nil)
				},
				Tools: st.Catalog.Tools,
			})
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "model to load (default: models.default)")
	return cmd
}
