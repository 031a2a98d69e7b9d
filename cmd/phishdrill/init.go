package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/foxzi/phishdrill/internal/identity"
	"github.com/foxzi/phishdrill/internal/mailer"
)

var (
	initOwner     string
	initPublicURL string
	initOutput    string
	initDataDir   string
	initRelay     string
	initFrom      string
	initDKIM      bool
	initForce     bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter configuration",
	Long: `Create a starter configuration with one operator API key.

Examples:
  # Local testing
  phishdrill init --owner secops -o phishdrill.yaml

  # With a mail relay and DKIM signing
  phishdrill init --owner secops --public-url https://drill.example.com \
    --relay smtp.example.com:587 --from it-support@example.com --dkim`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initOwner, "owner", "", "Owner id of the generated API key (required)")
	initCmd.Flags().StringVar(&initPublicURL, "public-url", "http://localhost:8080", "Public base URL of the tracked links")
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "config.yaml", "Output configuration file path")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/phishdrill", "Data directory for the database and keys")
	initCmd.Flags().StringVar(&initRelay, "relay", "", "Mail relay host:port (enables the mailer)")
	initCmd.Flags().StringVar(&initFrom, "from", "", "Sender address of the lure emails")
	initCmd.Flags().BoolVar(&initDKIM, "dkim", false, "Generate a DKIM key for the sender domain")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")
	initCmd.MarkFlagRequired("owner")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
		}
	}
	if initRelay != "" && initFrom == "" {
		return fmt.Errorf("--from is required with --relay")
	}

	out := cmd.OutOrStdout()

	key := generateRandomString(40)
	hash, err := identity.HashKey(key)
	if err != nil {
		return err
	}

	var signDomain, dkimKeyPath, dkimRecord string
	if initDKIM {
		if initRelay == "" {
			return fmt.Errorf("--relay is required with --dkim")
		}
		signDomain = senderDomain(initFrom)
		dkimKeyPath = filepath.Join(initDataDir, "dkim", signDomain+".key")
		dkimRecord, err = mailer.GenerateKey(dkimKeyPath)
		if err != nil {
			return fmt.Errorf("failed to generate DKIM key: %w", err)
		}
		fmt.Fprintf(out, "DKIM key saved to: %s\n", dkimKeyPath)
	}

	content := generateConfig(hash, signDomain, dkimKeyPath)
	if err := os.WriteFile(initOutput, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(out, "Configuration saved to: %s\n\n", initOutput)
	fmt.Fprintf(out, "API key for %s (shown once): %s\n", initOwner, key)

	if dkimRecord != "" {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Publish the DKIM record:\n")
		fmt.Fprintf(out, "  Name: phishdrill._domainkey.%s\n", signDomain)
		fmt.Fprintf(out, "  Type: TXT\n")
		fmt.Fprintf(out, "  Value: %s\n", dkimRecord)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Start the server with: phishdrill serve -c %s\n", initOutput)
	return nil
}

func senderDomain(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == '@' {
			return addr[i+1:]
		}
	}
	return addr
}

func generateConfig(keyHash, signDomain, dkimKeyPath string) string {
	mailerSection := `mailer:
  enabled: false
  # relay_addr: "smtp.example.com:587"
  # from: "it-support@example.com"
  # starttls: true`
	if initRelay != "" {
		mailerSection = fmt.Sprintf(`mailer:
  enabled: true
  relay_addr: %q
  from: %q
  starttls: true
  # username: ""
  # password: ""`, initRelay, initFrom)
		if dkimKeyPath != "" {
			mailerSection += fmt.Sprintf(`
  dkim:
    enabled: true
    domain: %q
    selector: "phishdrill"
    key_file: %q`, signDomain, dkimKeyPath)
		}
	}

	return fmt.Sprintf(`# Phishdrill configuration
# Generated by: phishdrill init

tenancy:
  app_id: "default-app-id"

server:
  public_base_url: %q

api:
  listen_addr: ":8080"
  # allowed_ips: ["10.0.0.0/8"]
  # trusted_proxies: ["127.0.0.1"]

storage:
  path: %q

identity:
  api_keys:
%s  # oidc:
  #   enabled: true
  #   issuer_url: "https://accounts.example.com"
  #   client_id: "phishdrill"

tracking:
  rate_limit:
    enabled: true
    per_ip:
      events_per_hour: 120
    per_campaign:
      events_per_day: 10000

# textgen:
#   endpoint: "https://textgen.example.com/generate"
#   api_key: ""

%s

metrics:
  enabled: false
  listen_addr: ":9090"

logging:
  level: info
  format: json
`, initPublicURL, filepath.Join(initDataDir, "phishdrill.db"), apiKeyEntry(initOwner, keyHash), mailerSection)
}
