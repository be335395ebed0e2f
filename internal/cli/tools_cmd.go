package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"labagent/internal/appstate"
	"labagent/internal/mcp"
)

func (cc *cliContext) toolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect and call tools on the MCP server",
	}
	cmd.AddCommand(cc.toolsListCmd(), cc.toolsCallCmd())
	return cmd
}

func (cc *cliContext) toolsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the tools the agent can call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cc.withState(cmd, func(st *appstate.State) error {
				tools, err := st.Catalog.Refresh(cmd.Context())
				if err != nil {
					if hint := mcp.ActionableMessageFromError(err); hint != "" {
						err = fmt.Errorf("%s (%w)", hint, err)
					}
					return withExit(ExitToolServer, err)
				}
				out := cmd.OutOrStdout()
				if cc.flags.JSON {
					enc := json.NewEncoder(out)
					for _, t := range tools {
						if err := enc.Encode(map[string]any{"name": t.Name, "description": t.Description, "params": t.Params}); err != nil {
							return err
						}
					}
					return nil
				}
				s := newStyles(out, false)
				if len(tools) == 0 {
					fmt.Fprintln(out, s.dim("No tools offered by "+st.MCP.Endpoint()))
					return nil
				}
				for _, t := range tools {
					desc, _, _ := strings.Cut(t.Description, "\n")
					fmt.Fprintf(out, "%s  %s\n", s.Cyan.Render(t.Name), s.dim(desc))
					for _, p := range t.Params {
						req := "optional"
						if p.Required {
							req = "required"
						}
						fmt.Fprintf(out, "    %s %s\n", p.Name, s.dim(p.Type+", "+req))
					}
				}
				return nil
			})
		},
	}
}

func (cc *cliContext) toolsCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <tool> [json-args]",
		Short: "Call one tool and print its text result",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			callArgs := map[string]any{}
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &callArgs); err != nil {
					return fmt.Errorf("arguments must be a JSON object: %w", err)
				}
			}
			return cc.withState(cmd, func(st *appstate.State) error {
				text, err := st.MCP.CallTool(cmd.Context(), args[0], callArgs)
				if err != nil {
					return withExit(ExitToolServer, err)
				}
				if cc.flags.JSON {
					return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"tool": args[0], "result": text})
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			})
		},
	}
}
