package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"labagent/internal/config"
)

// secretKeys are the variables "config set-secret" may write.
var secretKeys = []string{config.EnvHubToken, config.EnvEngineAPIKey}

func (cc *cliContext) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}
	cmd.AddCommand(cc.configShowCmd(), cc.configInitCmd(), cc.configSetSecretCmd())
	return cmd
}

func (cc *cliContext) configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print effective config and where each value comes from (secrets redacted)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cc.loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fields := config.EffectiveFields(config.Redacted(cfg), cc.flags.ConfigPath)

			if cc.flags.JSON {
				enc := json.NewEncoder(out)
				for _, f := range fields {
					if err := enc.Encode(map[string]any{
						"key":    f.Key,
						"value":  f.Value,
						"source": f.Source,
						"env":    f.EnvVar,
					}); err != nil {
						return err
					}
				}
				return nil
			}
			s := newStyles(out, false)
			for _, f := range fields {
				fmt.Fprintf(out, "%s %s\n", s.kv(f.Key, f.Value), s.dim("("+string(f.Source)+", "+f.EnvVar+")"))
			}
			return nil
		},
	}
}

func (cc *cliContext) configInitCmd() *cobra.Command {
	var force, asYAML bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := cc.flags.ConfigPath
			if path == "" {
				p, err := config.ConfigPath()
				if err != nil {
					return err
				}
				path = p
				if asYAML {
					path = filepath.Join(filepath.Dir(p), "config.yaml")
				}
			}
			if _, err := os.Stat(path); err == nil && !force {
				return withExit(ExitConfigInvalid, fmt.Errorf("%s already exists (use --force to overwrite)", path))
			}

			var data []byte
			if filepath.Ext(path) == ".yaml" || filepath.Ext(path) == ".yml" {
				raw, err := yaml.Marshal(config.Default())
				if err != nil {
					return err
				}
				data = raw
			} else {
				data = []byte(config.DefaultTOML)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o600); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "write config.yaml instead of config.toml")
	return cmd
}

func (cc *cliContext) configSetSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-secret <" + secretKeys[0] + "|" + secretKeys[1] + ">",
		Short: "Store a token in .env.local (input is hidden)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			allowed := false
			for _, k := range secretKeys {
				allowed = allowed || k == key
			}
			if !allowed {
				return fmt.Errorf("unknown secret %q", key)
			}
			value, err := ReadSecret(cmd.InOrStdin(), key+": ")
			if err != nil {
				return fmt.Errorf("reading input: %w", err)
			}
			if value == "" {
				return errors.New("empty value, nothing saved")
			}
			if err := config.SaveSecret(key, value); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Saved", key, "to .env.local")
			return nil
		},
	}
}
