package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/poapbot/internal/event"
)

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect stored events",
	}

	cmd.AddCommand(newEventsListCmd())
	return cmd
}

func newEventsListCmd() *cobra.Command {
	var (
		configPath string
		guildID    string
		showPass   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the events of a guild",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventsList(cmd, configPath, guildID, showPass)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "poapbot.yaml", "path to poapbot config file")
	cmd.Flags().StringVar(&guildID, "guild", "", "guild ID (required)")
	cmd.Flags().BoolVar(&showPass, "show-pass", false, "print the secret pass of each event")
	cmd.MarkFlagRequired("guild")
	return cmd
}

func runEventsList(cmd *cobra.Command, configPath, guildID string, showPass bool) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	gormDB, err := openDB(cfg)
	if err != nil {
		return err
	}
	events, err := event.NewService(gormDB)
	if err != nil {
		return err
	}

	evs, err := events.ListGuild(cmd.Context(), guildID)
	if err != nil {
		return err
	}
	if len(evs) == 0 {
		fmt.Fprintf(out, "No events for guild %s\n", guildID)
		return nil
	}

	layout := cfg.Setup.DateLayout
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	header := "ID\tCHANNEL\tSTART (UTC)\tEND (UTC)\tCLAIMED"
	if showPass {
		header += "\tPASS"
	}
	fmt.Fprintln(tw, header)
	for _, ev := range evs {
		total, claimed, err := events.CodeStats(cmd.Context(), ev.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d/%d",
			ev.ID, ev.ChannelID,
			ev.StartDate.UTC().Format(layout), ev.EndDate.UTC().Format(layout),
			claimed, total)
		if showPass {
			fmt.Fprintf(tw, "\t%s", ev.Pass)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
