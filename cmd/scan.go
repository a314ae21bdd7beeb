package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/athlete-monitor/internal/model"
	"github.com/sells-group/athlete-monitor/internal/scan"
)

var scanCmd = &cobra.Command{
	Use:   "scan [name]",
	Short: "Scan one subject, or every stored subject with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		all, _ := cmd.Flags().GetBool("all")
		asJSON, _ := cmd.Flags().GetBool("json")
		if !all && len(args) == 0 {
			return eris.New("subject name is required (or pass --all)")
		}

		env, err := initMonitor(ctx, "scan")
		if err != nil {
			return err
		}
		defer env.Close()

		var inputs []model.SubjectInput
		if all {
			subjects, err := env.Store.ListSubjects(ctx)
			if err != nil {
				return eris.Wrap(err, "scan: list subjects")
			}
			for _, s := range subjects {
				inputs = append(inputs, model.SubjectInput{Name: s.Name, Club: s.Club})
			}
		} else {
			in, err := subjectInputFromFlags(cmd, args[0])
			if err != nil {
				return err
			}
			inputs = append(inputs, in)
		}

		var failed int
		for _, in := range inputs {
			res, err := env.Coordinator.RunScan(ctx, in, model.TriggerManual)
			if errors.Is(err, scan.ErrScanInProgress) {
				return eris.Wrap(err, "another scan is running")
			}
			if res != nil {
				if asJSON {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					_ = enc.Encode(res)
				} else {
					formatScanResult(os.Stdout, res)
				}
			}
			if err != nil {
				failed++
				zap.L().Error("scan failed", zap.String("subject", in.Name), zap.Error(err))
				if !all {
					return err
				}
			}
		}
		if failed > 0 {
			return eris.Errorf("%d of %d scans failed", failed, len(inputs))
		}
		return nil
	},
}

// subjectInputFromFlags reads --club and repeated --handle platform=value.
func subjectInputFromFlags(cmd *cobra.Command, name string) (model.SubjectInput, error) {
	club, _ := cmd.Flags().GetString("club")
	handles, _ := cmd.Flags().GetStringToString("handle")

	in := model.SubjectInput{Name: strings.TrimSpace(name), Club: club}
	if len(handles) > 0 {
		in.Handles = make(map[model.Platform]string, len(handles))
		for p, h := range handles {
			platform := model.Platform(strings.ToLower(strings.TrimSpace(p)))
			if !knownPlatform(platform) {
				return in, eris.Errorf("unknown platform %q", p)
			}
			in.Handles[platform] = h
		}
	}
	return in, nil
}

func knownPlatform(p model.Platform) bool {
	switch p {
	case model.PlatformTwitter, model.PlatformInstagram, model.PlatformTikTok, model.PlatformReddit, model.PlatformProfile:
		return true
	}
	return false
}

// formatScanResult writes a human-readable scan summary to w.
func formatScanResult(w io.Writer, res *scan.ScanResult) {
	depth := "standard"
	if res.Deep {
		depth = "deep"
	}
	_, _ = fmt.Fprintf(w, "Scan %s: %s (%s, run %s)\n", res.Status, res.Subject, depth, truncateID(res.RunID))

	rows := make([][]string, 0, len(model.SourceKinds))
	for _, kind := range model.SourceKinds {
		c := res.Counts[kind]
		rows = append(rows, []string{
			string(kind),
			fmt.Sprint(c.Fetched),
			fmt.Sprint(c.New),
			fmt.Sprint(c.Relevant),
			fmt.Sprint(c.Inserted),
		})
	}
	_, _ = fmt.Fprintln(w, renderTable(
		[]string{"KIND", "FETCHED", "NEW", "RELEVANT", "INSERTED"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
	))

	_, _ = fmt.Fprintf(w, "Image index: %.1f/100\n", res.ImageIndex.Score)
	if res.Narrative != nil {
		_, _ = fmt.Fprintf(w, "Narratives: %s\n", res.Narrative.Status)
	}
	for _, a := range res.Alerts {
		_, _ = fmt.Fprintf(w, "Alert [%s] %s\n", a.Severity, a.Title)
	}
	for _, src := range slices.Sorted(maps.Keys(res.SourceErrors)) {
		_, _ = fmt.Fprintf(w, "Source %s failed: %s\n", src, res.SourceErrors[src])
	}
	if res.Report != nil && res.Report.Summary != "" {
		_, _ = fmt.Fprintf(w, "\n%s\n", res.Report.Summary)
	}
	if res.CostUSD > 0 {
		_, _ = fmt.Fprintf(w, "LLM cost: $%.4f\n", res.CostUSD)
	}
	if res.Error != "" {
		_, _ = fmt.Fprintf(w, "Error: %s\n", res.Error)
	}
}

func init() {
	scanCmd.Flags().String("club", "", "subject's current club")
	scanCmd.Flags().StringToString("handle", nil, "social handle as platform=value (repeatable)")
	scanCmd.Flags().Bool("all", false, "scan every stored subject in turn")
	scanCmd.Flags().Bool("json", false, "print the full result as JSON")
	rootCmd.AddCommand(scanCmd)
}
