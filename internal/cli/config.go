package cli

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create configuration files",
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigInitCmd(), newConfigPathCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (API keys masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := dataDir()
			if err != nil {
				return err
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			cfg.Provider.OpenAIKey = mask(cfg.Provider.OpenAIKey)
			cfg.Provider.AnthropicKey = mask(cfg.Provider.AnthropicKey)
			cfg.Counter.RedisPassword = mask(cfg.Counter.RedisPassword)
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		},
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}

func newConfigInitCmd() *cobra.Command {
	var global, force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Long: `Write the default settings to the data directory's config.toml, or
with --global to ~/.config/charmem/config.toml. Existing files are kept
unless --force is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if global {
				p, err := config.GlobalConfigPath()
				if err != nil {
					return err
				}
				path = p
			} else {
				dir, err := dataDir()
				if err != nil {
					return err
				}
				path = config.DataConfigPath(dir)
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "write the global config instead")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config and database locations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := dataDir()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if p, err := config.GlobalConfigPath(); err == nil {
				fmt.Fprintf(out, "Global config:  %s\n", p)
			}
			fmt.Fprintf(out, "Data config:    %s\n", config.DataConfigPath(dir))
			fmt.Fprintf(out, "Database:       %s\n", config.DBPath(dir))
			return nil
		},
	}
}
