package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/phishdrill/internal/campaign"
	"github.com/foxzi/phishdrill/internal/config"
	"github.com/foxzi/phishdrill/internal/storage"
)

var (
	campaignOwner      string
	campaignListStatus string
	campaignListLimit  int

	campaignName     string
	campaignDesc     string
	campaignTargets  string
	campaignSubject  string
	campaignBodyFile string
	campaignPage     string
	campaignStart    string
	campaignEnd      string
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Campaign management commands",
	Long: `Campaign management commands.

These commands open the database file directly and need the server to be
stopped, since BoltDB holds an exclusive lock while it runs.`,
}

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns of an owner",
	RunE:  runCampaignList,
}

var campaignShowCmd = &cobra.Command{
	Use:   "show <campaign_id>",
	Short: "Show campaign details and results",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignShow,
}

var campaignCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a campaign",
	RunE:  runCampaignCreate,
}

var campaignStatusCmd = &cobra.Command{
	Use:   "status <campaign_id> <draft|active|paused|completed>",
	Short: "Change campaign status",
	Args:  cobra.ExactArgs(2),
	RunE:  runCampaignStatus,
}

var campaignDeleteCmd = &cobra.Command{
	Use:   "delete <campaign_id>",
	Short: "Delete a campaign and its results",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignDelete,
}

func init() {
	campaignCmd.PersistentFlags().StringVar(&campaignOwner, "owner", "", "Owner id the campaigns belong to (required)")
	campaignCmd.MarkPersistentFlagRequired("owner")

	campaignListCmd.Flags().StringVar(&campaignListStatus, "status", "", "Filter by status (draft, active, paused, completed)")
	campaignListCmd.Flags().IntVar(&campaignListLimit, "limit", 50, "Maximum number of campaigns to show")

	campaignCreateCmd.Flags().StringVar(&campaignName, "name", "", "Campaign name (required)")
	campaignCreateCmd.Flags().StringVar(&campaignDesc, "description", "", "Campaign description")
	campaignCreateCmd.Flags().StringVar(&campaignTargets, "targets", "", "Comma separated target emails")
	campaignCreateCmd.Flags().StringVar(&campaignSubject, "subject", "", "Email subject")
	campaignCreateCmd.Flags().StringVar(&campaignBodyFile, "body-file", "", "File with the email body (use "+campaign.Placeholder+" for the link)")
	campaignCreateCmd.Flags().StringVar(&campaignPage, "page", string(campaign.PageLogin), "Simulated page (login, error, update)")
	campaignCreateCmd.Flags().StringVar(&campaignStart, "start", "", "Start date YYYY-MM-DD")
	campaignCreateCmd.Flags().StringVar(&campaignEnd, "end", "", "End date YYYY-MM-DD (inclusive)")
	campaignCreateCmd.MarkFlagRequired("name")

	campaignCmd.AddCommand(campaignListCmd, campaignShowCmd, campaignCreateCmd, campaignStatusCmd, campaignDeleteCmd)
	rootCmd.AddCommand(campaignCmd)
}

// cliEnv is the service stack the offline commands work through
type cliEnv struct {
	cfg     *config.Config
	store   *storage.BoltStore
	service *campaign.Service
	agg     *campaign.Aggregator
}

func openCampaigns() (*cliEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := storage.NewBoltStore(cfg.Storage.Path, cfg.Tenancy.AppID)
	if err != nil {
		return nil, fmt.Errorf("failed to open campaign storage: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	broker := campaign.NewBroker()
	links := campaign.Links{BaseURL: cfg.Server.PublicBaseURL}

	return &cliEnv{
		cfg:     cfg,
		store:   store,
		service: campaign.NewService(store, broker, links, logger),
		agg:     campaign.NewAggregator(store, broker, cfg.Aggregator.MaxAttempts, logger),
	}, nil
}

func (e *cliEnv) Close() error {
	return e.store.Close()
}

func runCampaignList(cmd *cobra.Command, args []string) error {
	env, err := openCampaigns()
	if err != nil {
		return err
	}
	defer env.Close()

	campaigns, err := env.service.List(context.Background(), campaignOwner, campaign.ListFilter{
		Status: campaign.Status(campaignListStatus),
		Limit:  campaignListLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list campaigns: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(campaigns) == 0 {
		fmt.Fprintln(out, "No campaigns")
		return nil
	}

	printCampaignTable(out, campaigns, time.Now())
	return nil
}

func printCampaignTable(out io.Writer, campaigns []*campaign.Campaign, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tTARGETS\tSENT\tCLICKS\tSUBMISSIONS\tCREATED")
	for _, c := range campaigns {
		s := c.Results.Summarize()
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d/%d\t%d/%d\t%s\n",
			c.ID,
			truncate(c.Name, 30),
			c.DisplayLabel(now),
			len(c.TargetEmails),
			s.TotalSent,
			s.UniqueClicks, s.Clicks,
			s.UniqueSubmissions, s.Submissions,
			c.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	w.Flush()
}

func runCampaignShow(cmd *cobra.Command, args []string) error {
	env, err := openCampaigns()
	if err != nil {
		return err
	}
	defer env.Close()

	c, err := env.agg.Read(context.Background(), campaignOwner, args[0])
	if err != nil {
		return fmt.Errorf("failed to get campaign: %w", err)
	}

	printCampaign(cmd.OutOrStdout(), c, time.Now())
	return nil
}

func printCampaign(out io.Writer, c *campaign.Campaign, now time.Time) {
	s := c.Results.Summarize()

	fmt.Fprintf(out, "Campaign: %s\n", c.ID)
	fmt.Fprintf(out, "  Name:        %s\n", c.Name)
	if c.Description != "" {
		fmt.Fprintf(out, "  Description: %s\n", c.Description)
	}
	fmt.Fprintf(out, "  Status:      %s (%s)\n", c.DisplayLabel(now), c.Status)
	fmt.Fprintf(out, "  Page:        %s\n", c.SimulatedPageType)
	if c.StartDate != "" || c.EndDate != "" {
		fmt.Fprintf(out, "  Window:      %s .. %s\n", orDash(string(c.StartDate)), orDash(string(c.EndDate)))
	}
	fmt.Fprintf(out, "  Subject:     %s\n", c.EmailSubject)
	fmt.Fprintf(out, "  Targets:     %d\n", len(c.TargetEmails))
	fmt.Fprintf(out, "  Version:     %d\n", c.Version)
	fmt.Fprintf(out, "  Updated:     %s\n", c.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Results:\n")
	fmt.Fprintf(out, "  Sent:        %d\n", s.TotalSent)
	fmt.Fprintf(out, "  Clicks:      %d (%d unique)\n", s.Clicks, s.UniqueClicks)
	fmt.Fprintf(out, "  Submissions: %d (%d unique)\n", s.Submissions, s.UniqueSubmissions)

	if len(c.Results.ClickDetails) == 0 {
		return
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tLAST CLICK\tIP\tSUBMITTED")
	for _, target := range sortedKeys(c.Results.ClickDetails) {
		d := c.Results.ClickDetails[target]
		submitted := "no"
		if sub, ok := c.Results.SubmissionDetails[target]; ok {
			submitted = sub.Timestamp.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", target, d.Timestamp.Format("2006-01-02 15:04"), d.IP, submitted)
	}
	w.Flush()
}

func runCampaignCreate(cmd *cobra.Command, args []string) error {
	draft := campaign.Draft{
		Name:              campaignName,
		Description:       campaignDesc,
		TargetEmails:      campaign.ParseTargets(campaignTargets),
		EmailSubject:      campaignSubject,
		SimulatedPageType: campaign.PageType(campaignPage),
		StartDate:         campaign.Date(campaignStart),
		EndDate:           campaign.Date(campaignEnd),
	}

	if campaignBodyFile != "" {
		body, err := os.ReadFile(campaignBodyFile)
		if err != nil {
			return fmt.Errorf("failed to read body file: %w", err)
		}
		draft.EmailBody = string(body)
	}

	env, err := openCampaigns()
	if err != nil {
		return err
	}
	defer env.Close()

	c, err := env.service.Create(context.Background(), campaignOwner, draft)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Campaign %s created (%d targets)\n", c.ID, len(c.TargetEmails))
	return nil
}

func runCampaignStatus(cmd *cobra.Command, args []string) error {
	env, err := openCampaigns()
	if err != nil {
		return err
	}
	defer env.Close()

	c, err := env.service.SetStatus(context.Background(), campaignOwner, args[0], campaign.Status(args[1]))
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Campaign %s is now %s\n", c.ID, c.Status)
	return nil
}

func runCampaignDelete(cmd *cobra.Command, args []string) error {
	env, err := openCampaigns()
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.service.Delete(context.Background(), campaignOwner, args[0]); err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Campaign %s deleted\n", args[0])
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
