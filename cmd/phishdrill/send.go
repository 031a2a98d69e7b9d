package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foxzi/phishdrill/internal/app"
	"github.com/foxzi/phishdrill/internal/campaign"
)

var sendTargets string

var campaignSendCmd = &cobra.Command{
	Use:   "send <campaign_id>",
	Short: "Mail the campaign lure through the configured relay",
	Long: `Mail the campaign lure through the configured relay.

Every target gets its own tracked link. Without --targets the lure goes to
all targets of the campaign.`,
	Args: cobra.ExactArgs(1),
	RunE: runCampaignSend,
}

func init() {
	campaignSendCmd.Flags().StringVar(&sendTargets, "targets", "", "Comma separated subset of campaign targets")
	campaignCmd.AddCommand(campaignSendCmd)
}

func runCampaignSend(cmd *cobra.Command, args []string) error {
	env, err := openCampaigns()
	if err != nil {
		return err
	}
	defer env.Close()

	if !env.cfg.Mailer.Enabled {
		return fmt.Errorf("mailer is not enabled in %s", cfgFile)
	}

	logger := app.SetupLogger(env.cfg.Logging, os.Stderr)
	dispatcher, err := app.NewDispatcher(env.cfg, env.agg, logger)
	if err != nil {
		return err
	}

	res, err := dispatcher.Send(context.Background(), campaignOwner, args[0], campaign.ParseTargets(sendTargets))
	if err != nil {
		return fmt.Errorf("failed to send campaign: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Sent %d message(s), total for campaign: %d\n", res.Sent, res.TotalSent)
	for _, f := range res.Failed {
		kind := "permanent"
		if f.Temporary {
			kind = "temporary"
		}
		fmt.Fprintf(out, "  FAILED %s (%s): %s\n", f.Target, kind, f.Error)
	}
	return nil
}
