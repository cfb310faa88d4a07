package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/docsim/docsim-client/internal/config"
	"github.com/docsim/docsim-client/internal/constants"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage docsim configuration",
		Long: `Configuration management commands for docsim.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for docsim.

The configuration is saved to ~/.config/docsim/config and the bearer token
to ~/.config/docsim/token (mode 0600). The token is read without echo when
stdin is a terminal.

Use --force to overwrite existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd.InOrStdin(), cmd.OutOrStdout(), configPath(), config.DefaultTokenPath(), force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")

	return cmd
}

func runConfigInit(in io.Reader, out io.Writer, path, tokenPath string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
			fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view current config.")
			return nil
		}
	}

	fmt.Fprintln(out, "docsim Configuration Setup")
	fmt.Fprintln(out, "==========================")
	fmt.Fprintln(out)

	p := newPrompter(in, out)
	cfg := config.NewConfig()

	var err error
	if cfg.APIBaseURL, err = p.line("Gateway URL", constants.DefaultAPIBaseURL); err != nil {
		return err
	}

	tok, err := p.secret("Bearer token (leave empty to set later)")
	if err != nil {
		return err
	}

	interval, err := p.line("Polling interval in ms", strconv.FormatInt(cfg.PollInterval.Milliseconds(), 10))
	if err != nil {
		return err
	}
	if ms, convErr := strconv.Atoi(interval); convErr == nil && ms > 0 {
		cfg.PollInterval = time.Duration(ms) * time.Millisecond
	}

	fmt.Fprintln(out)
	useProxy, err := p.confirm("Configure proxy?")
	if err != nil {
		return err
	}
	if useProxy {
		fmt.Fprintln(out, "Proxy modes: no-proxy, system, basic, ntlm")
		if cfg.ProxyMode, err = p.line("Proxy mode", "system"); err != nil {
			return err
		}
		if cfg.ProxyMode != "no-proxy" && cfg.ProxyMode != "system" {
			if cfg.ProxyHost, err = p.line("Proxy host", ""); err != nil {
				return err
			}
			port, err := p.line("Proxy port", "8080")
			if err != nil {
				return err
			}
			if v, convErr := strconv.Atoi(port); convErr == nil && v > 0 {
				cfg.ProxyPort = v
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := config.Save(cfg, path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	GetLogger().Info().Str("path", path).Msg("Configuration saved")

	fmt.Fprintln(out)
	fmt.Fprintf(out, "✓ Configuration saved to: %s\n", path)
	if tok != "" && tokenPath != "" {
		if err := config.WriteTokenFile(tokenPath, tok); err != nil {
			return fmt.Errorf("failed to save token file: %w", err)
		}
		fmt.Fprintf(out, "✓ Token saved to: %s\n", tokenPath)
	} else {
		fmt.Fprintf(out, "No token saved. Use --token, --token-file or %s.\n", config.EnvToken)
	}
	return nil
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration, merged from:
  1. Configuration file (~/.config/docsim/config)
  2. Environment variables (DOCSIM_TOKEN, DOCSIM_API_URL)
  3. Command-line flags (--token, --token-file, --api-url)

The token is always redacted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg.MergeWithFlags(token, tokenFile, apiBaseURL)
			printConfig(cmd.OutOrStdout(), cfg, path)
			return nil
		},
	}
}

func printConfig(out io.Writer, cfg *config.Config, path string) {
	fmt.Fprintln(out, "Current Configuration")
	fmt.Fprintln(out, "=====================")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Gateway:")
	fmt.Fprintf(out, "  URL:   %s\n", cfg.APIBaseURL)
	fmt.Fprintf(out, "  Token: %s\n", cfg.RedactedToken())
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Polling:")
	fmt.Fprintf(out, "  Interval:                 %s\n", cfg.PollInterval)
	fmt.Fprintf(out, "  Max consecutive failures: %d\n", cfg.MaxConsecutiveFailures)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Proxy:")
	fmt.Fprintf(out, "  Mode: %s\n", cfg.ProxyMode)
	if cfg.ProxyHost != "" {
		fmt.Fprintf(out, "  Host: %s\n", cfg.ProxyHost)
		fmt.Fprintf(out, "  Port: %d\n", cfg.ProxyPort)
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Notifications: %t\n", cfg.NotificationsEnabled)
	if cfg.Export.S3Bucket != "" || cfg.Export.AzureContainer != "" {
		fmt.Fprintln(out, "Export:")
		if cfg.Export.S3Bucket != "" {
			fmt.Fprintf(out, "  S3:    s3://%s (%s)\n", cfg.Export.S3Bucket, cfg.Export.S3Region)
		}
		if cfg.Export.AzureContainer != "" {
			fmt.Fprintf(out, "  Azure: %s/%s\n", cfg.Export.AzureAccountURL, cfg.Export.AzureContainer)
		}
		if cfg.Export.Prefix != "" {
			fmt.Fprintf(out, "  Prefix: %s\n", cfg.Export.Prefix)
		}
	}
	if cfg.LogFile != "" {
		fmt.Fprintf(out, "Log file: %s\n", cfg.LogFile)
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Configuration file: %s\n", path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(out, "  (file does not exist - using defaults)")
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := configPath()
			fmt.Fprintln(out, path)
			if _, err := os.Stat(path); err != nil {
				fmt.Fprintln(out, "Create a configuration file with: docsim config init")
			}
			return nil
		},
	}
}
