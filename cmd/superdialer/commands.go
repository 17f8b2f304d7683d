package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MarcoPoloResearchLab/superdialer/internal/auth"
	"github.com/MarcoPoloResearchLab/superdialer/internal/dialer"
	"github.com/MarcoPoloResearchLab/superdialer/internal/history"
	"github.com/spf13/cobra"
)

var errAuthDisabled = errors.New("auth.signing_secret must be configured to issue device tokens")

// historyFilter narrows the printed history. Empty fields do not filter.
type historyFilter struct {
	tag       string
	direction history.Direction
	number    string
}

func newHistoryCommand() *cobra.Command {
	var tagFilter, directionFilter, numberFilter string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the merged call history with contact names, tags and note counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			direction, err := history.ParseDirectionFilter(directionFilter)
			if err != nil {
				return fmt.Errorf("--direction %q: %w", directionFilter, err)
			}
			filter := historyFilter{
				tag:       strings.TrimSpace(tagFilter),
				direction: direction,
				number:    strings.TrimSpace(numberFilter),
			}

			appConfig, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			app, err := openApplication(appConfig, logger)
			if err != nil {
				return err
			}
			defer app.Close() //nolint:errcheck

			ctx := cmd.Context()
			<-app.coordinator.Refresh(ctx)

			allNotes, err := app.store.AllNotes(ctx)
			if err != nil {
				return err
			}
			counts := make(map[string]int)
			for _, note := range allNotes {
				counts[note.PhoneNumber]++
			}
			return printHistory(cmd.OutOrStdout(), app.coordinator.State(), counts, filter)
		},
	}
	cmd.Flags().StringVar(&tagFilter, "tag", "", "Only show numbers currently tagged with this label")
	cmd.Flags().StringVar(&directionFilter, "direction", "All", "Only show calls of this direction: All, Incoming, Outgoing or Missed")
	cmd.Flags().StringVar(&numberFilter, "number", "", "Only show calls of this phone number")
	return cmd
}

func printHistory(out io.Writer, state dialer.ViewState, noteCounts map[string]int, filter historyFilter) error {
	var allowed map[string]bool
	if filter.tag != "" {
		allowed = make(map[string]bool)
		for _, number := range state.NumbersWithTag(filter.tag) {
			allowed[number] = true
		}
	}
	records := state.CallHistory
	if filter.number != "" {
		records = state.CallsFor(filter.number)
	}
	records = history.FilterByDirection(records, filter.direction)

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tNUMBER\tDIRECTION\tTIME\tDURATION\tTAG\tNOTES")
	for _, record := range records {
		if allowed != nil && !allowed[record.Number] {
			continue
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			state.DisplayName(record.Number),
			record.Number,
			record.Direction,
			record.Timestamp.Local().Format(time.DateTime),
			record.Duration,
			state.TagsByNumber[record.Number],
			noteCounts[record.Number],
		)
	}
	return writer.Flush()
}

func newIssueTokenCommand() *cobra.Command {
	var device auth.Device
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Issue a bearer token for a paired device",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, _, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			if !appConfig.AuthEnabled() {
				return errAuthDisabled
			}
			tokenIssuer, err := newTokenIssuer(appConfig)
			if err != nil {
				return err
			}
			token, expiresIn, err := tokenIssuer.IssueDeviceToken(cmd.Context(), device)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			return encoder.Encode(struct {
				AccessToken string `json:"access_token"`
				ExpiresIn   int64  `json:"expires_in"`
				TokenType   string `json:"token_type"`
			}{AccessToken: token, ExpiresIn: expiresIn, TokenType: "Bearer"})
		},
	}
	cmd.Flags().StringVar(&device.ID, "device", "", "Device identifier (token subject)")
	cmd.Flags().StringVar(&device.Kind, "kind", "", "Device kind, e.g. phone or tablet")
	_ = cmd.MarkFlagRequired("device")
	return cmd
}
