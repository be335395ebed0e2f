// Package cli implements the labagent command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"labagent/internal/appstate"
	"labagent/internal/config"
)

// Exit codes.
const (
	ExitSuccess          = 0
	ExitGenericError     = 1
	ExitConfigInvalid    = 2
	ExitToolServer       = 3
	ExitBindFailure      = 4
	ExitModelUnavailable = 5
)

// GlobalFlags holds flags shared across all commands.
type GlobalFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	MCPURL     string
	ModelsDir  string
	EngineURL  string
}

// exitError carries the process exit code up to Execute.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExit(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, config.ErrInvalid) {
		return ExitConfigInvalid
	}
	return ExitGenericError
}

type cliContext struct {
	flags GlobalFlags
}

func newRootCmd() *cobra.Command {
	cc := &cliContext{}
	root := &cobra.Command{
		Use:           "labagent",
		Short:         "Local language model agent for lab data",
		Long:          "labagent serves a locally hosted model that answers lab-data questions by calling tools on an MCP server while it streams its reply.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cc.flags.ConfigPath, "config", "", "config file (default: $LABAGENT_CONFIG or <user config dir>/labagent/config.toml)")
	pf.BoolVar(&cc.flags.JSON, "json", false, "emit NDJSON for automation")
	pf.BoolVarP(&cc.flags.Verbose, "verbose", "v", false, "log tool server and agent traffic")
	pf.StringVar(&cc.flags.MCPURL, "mcp-url", "", "tool server endpoint")
	pf.StringVar(&cc.flags.ModelsDir, "models-dir", "", "directory holding downloaded models")
	pf.StringVar(&cc.flags.EngineURL, "engine-url", "", "OpenAI compatible inference server base URL")

	root.AddCommand(
		cc.serveCmd(),
		cc.askCmd(),
		cc.chatCmd(),
		cc.modelsCmd(),
		cc.toolsCmd(),
		cc.configCmd(),
		versionCmd(),
	)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	root := newRootCmd()
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, newStyles(os.Stderr, false).errPrefix(), err)
	}
	return exitCode(err)
}

// loadConfig applies the flags the user actually set on top of the layered
// config.
func (cc *cliContext) loadConfig(cmd *cobra.Command) (config.Config, error) {
	ov := &config.Overrides{}
	flags := cmd.Flags()
	if flags.Changed("mcp-url") {
		ov.MCPURL = &cc.flags.MCPURL
	}
	if flags.Changed("models-dir") {
		ov.ModelsDir = &cc.flags.ModelsDir
	}
	if flags.Changed("engine-url") {
		ov.EngineURL = &cc.flags.EngineURL
	}
	if flags.Changed("verbose") {
		ov.Verbose = &cc.flags.Verbose
	}
	cfg, err := config.Load(config.Options{Path: cc.flags.ConfigPath, Overrides: ov})
	if err != nil {
		return config.Config{}, withExit(ExitConfigInvalid, err)
	}
	return cfg, nil
}

// newState builds the process state. Logs go to logw; pass io.Discard to
// keep a terminal UI clean.
func (cc *cliContext) newState(ctx context.Context, cfg config.Config, logw io.Writer) (*appstate.State, error) {
	return appstate.New(ctx, cfg, appstate.Deps{Logger: log.New(logw, "", log.LstdFlags)})
}
