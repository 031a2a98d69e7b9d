package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foxzi/phishdrill/internal/app"
	"github.com/foxzi/phishdrill/internal/config"
)

var (
	cfgFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "phishdrill",
	Short: "Phishdrill - phishing awareness campaign server",
	Long: `Phishdrill runs phishing-simulation campaigns: it serves the simulated
landing pages, aggregates clicks and submissions per campaign and streams
live results to operators.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("phishdrill version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(ctx)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration is valid\n")
	fmt.Fprintf(out, "  App ID: %s\n", cfg.Tenancy.AppID)
	fmt.Fprintf(out, "  API: %s\n", cfg.API.ListenAddr)
	fmt.Fprintf(out, "  Public URL: %s\n", cfg.Server.PublicBaseURL)
	fmt.Fprintf(out, "  Storage: %s\n", cfg.Storage.Path)
	fmt.Fprintf(out, "  API keys: %d\n", len(cfg.Identity.APIKeys))
	if cfg.Identity.OIDC.Enabled {
		fmt.Fprintf(out, "  OIDC issuer: %s\n", cfg.Identity.OIDC.IssuerURL)
	}
	if cfg.Mailer.Enabled {
		fmt.Fprintf(out, "  Mail relay: %s\n", cfg.Mailer.RelayAddr)
	}
	if cfg.TextGenEnabled() {
		fmt.Fprintf(out, "  Text generation: %s\n", cfg.TextGen.Endpoint)
	}

	return nil
}
