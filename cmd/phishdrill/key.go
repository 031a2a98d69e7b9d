package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/foxzi/phishdrill/internal/identity"
	"github.com/foxzi/phishdrill/internal/mailer"
)

var (
	keyOwner string

	dkimDomain   string
	dkimSelector string
	dkimKeyFile  string
	dkimOutDir   string
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Operator API key commands",
}

var keyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new API key and its config entry",
	RunE:  runKeyGenerate,
}

var keyHashCmd = &cobra.Command{
	Use:   "hash <key>",
	Short: "Hash an existing API key for the config file",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeyHash,
}

var dkimCmd = &cobra.Command{
	Use:   "dkim",
	Short: "DKIM key management commands",
}

var dkimGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new DKIM key pair",
	Long:  `Generate a new RSA 2048-bit DKIM key pair and output the DNS record.`,
	RunE:  runDKIMGenerate,
}

var dkimShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show DKIM DNS record from existing key",
	RunE:  runDKIMShow,
}

func init() {
	keyGenerateCmd.Flags().StringVar(&keyOwner, "owner", "", "Owner id the key authenticates as (required)")
	keyGenerateCmd.MarkFlagRequired("owner")
	keyCmd.AddCommand(keyGenerateCmd, keyHashCmd)

	dkimGenerateCmd.Flags().StringVar(&dkimDomain, "domain", "", "Sender domain (required)")
	dkimGenerateCmd.Flags().StringVar(&dkimSelector, "selector", "phishdrill", "DKIM selector")
	dkimGenerateCmd.Flags().StringVar(&dkimOutDir, "out", ".", "Output directory for key file")
	dkimGenerateCmd.MarkFlagRequired("domain")

	dkimShowCmd.Flags().StringVar(&dkimKeyFile, "key", "", "Path to private key file (required)")
	dkimShowCmd.Flags().StringVar(&dkimDomain, "domain", "", "Sender domain (required)")
	dkimShowCmd.Flags().StringVar(&dkimSelector, "selector", "phishdrill", "DKIM selector")
	dkimShowCmd.MarkFlagRequired("key")
	dkimShowCmd.MarkFlagRequired("domain")

	dkimCmd.AddCommand(dkimGenerateCmd, dkimShowCmd)
	rootCmd.AddCommand(keyCmd, dkimCmd)
}

func runKeyGenerate(cmd *cobra.Command, args []string) error {
	key := generateRandomString(40)
	hash, err := identity.HashKey(key)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "API key (shown once): %s\n\n", key)
	fmt.Fprintf(out, "Add to identity.api_keys:\n")
	fmt.Fprintf(out, "%s", apiKeyEntry(keyOwner, hash))
	return nil
}

func runKeyHash(cmd *cobra.Command, args []string) error {
	hash, err := identity.HashKey(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}

func apiKeyEntry(owner, hash string) string {
	return fmt.Sprintf("    - owner: %q\n      key_hash: %q\n", owner, hash)
}

func runDKIMGenerate(cmd *cobra.Command, args []string) error {
	keyPath := filepath.Join(dkimOutDir, fmt.Sprintf("%s.key", dkimDomain))
	record, err := mailer.GenerateKey(keyPath)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "DKIM key generated successfully\n\n")
	fmt.Fprintf(out, "Private key saved to: %s\n\n", keyPath)
	printDKIMRecord(cmd, record)
	return nil
}

func runDKIMShow(cmd *cobra.Command, args []string) error {
	privateKey, err := mailer.LoadPrivateKey(dkimKeyFile)
	if err != nil {
		return fmt.Errorf("failed to load private key: %w", err)
	}

	record, err := mailer.DNSRecord(&privateKey.PublicKey)
	if err != nil {
		return err
	}
	printDKIMRecord(cmd, record)
	return nil
}

func printDKIMRecord(cmd *cobra.Command, record string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "DNS Record:\n")
	fmt.Fprintf(out, "  Name: %s._domainkey.%s\n", dkimSelector, dkimDomain)
	fmt.Fprintf(out, "  Type: TXT\n")
	fmt.Fprintf(out, "  Value: %s\n", record)
}

func generateRandomString(length int) string {
	bytes := make([]byte, length/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
