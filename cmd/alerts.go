package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/athlete-monitor/internal/model"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List and triage alerts",
}

// -- alerts list --

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		subject, _ := cmd.Flags().GetString("subject")
		unread, _ := cmd.Flags().GetBool("unread")
		dismissed, _ := cmd.Flags().GetBool("dismissed")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := model.AlertFilter{UnreadOnly: unread, IncludeDismissed: dismissed, Limit: limit}
		names := map[string]string{}
		if subject != "" {
			subj, err := lookupSubject(ctx, st, subject)
			if err != nil {
				return err
			}
			filter.SubjectID = subj.ID
			names[subj.ID] = subj.Name
		} else {
			subjects, err := st.ListSubjects(ctx)
			if err != nil {
				return eris.Wrap(err, "alerts list")
			}
			for _, s := range subjects {
				names[s.ID] = s.Name
			}
		}

		alerts, err := st.ListAlerts(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "alerts list")
		}
		if len(alerts) == 0 {
			fmt.Fprintln(os.Stderr, "No alerts found.")
			return nil
		}
		formatAlertsList(os.Stdout, alerts, names)
		return nil
	},
}

// -- alerts read / dismiss --

var alertsReadCmd = &cobra.Command{
	Use:   "read <alert-id>",
	Short: "Mark an alert as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.MarkAlertRead(ctx, args[0]); err != nil {
			return eris.Wrap(err, "alerts read")
		}
		return nil
	},
}

var alertsDismissCmd = &cobra.Command{
	Use:   "dismiss <alert-id>",
	Short: "Dismiss an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.DismissAlert(ctx, args[0]); err != nil {
			return eris.Wrap(err, "alerts dismiss")
		}
		return nil
	},
}

func init() {
	alertsListCmd.Flags().String("subject", "", "only alerts for this subject name")
	alertsListCmd.Flags().Bool("unread", false, "only unread alerts")
	alertsListCmd.Flags().Bool("dismissed", false, "include dismissed alerts")
	alertsListCmd.Flags().Int("limit", 50, "max number of alerts to display")

	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsReadCmd)
	alertsCmd.AddCommand(alertsDismissCmd)
	rootCmd.AddCommand(alertsCmd)
}

// formatAlertsList writes a table of alerts to w. names maps subject IDs to
// display names.
func formatAlertsList(w io.Writer, alerts []model.Alert, names map[string]string) {
	rows := make([][]string, 0, len(alerts))
	for _, a := range alerts {
		subject := names[a.SubjectID]
		if subject == "" {
			subject = truncateID(a.SubjectID)
		}
		state := "new"
		switch {
		case a.Dismissed:
			state = "dismissed"
		case a.Read:
			state = "read"
		}
		rows = append(rows, []string{
			a.ID,
			subject,
			string(a.Severity),
			string(a.Type),
			truncate(a.Title, 50),
			state,
			a.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	_, _ = fmt.Fprintln(w, renderTable(
		[]string{"ID", "SUBJECT", "SEVERITY", "TYPE", "TITLE", "STATE", "CREATED"},
		rows, nil,
	))
}
