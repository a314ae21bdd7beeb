package main

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/athlete-monitor/internal/model"
)

var subjectsCmd = &cobra.Command{
	Use:   "subjects",
	Short: "Manage tracked subjects",
}

// -- subjects add --

var subjectsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a subject or update its club and handles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		in, err := subjectInputFromFlags(cmd, args[0])
		if err != nil {
			return err
		}
		if in.Name == "" {
			return eris.New("subject name is required")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		subj, err := st.UpsertSubject(ctx, in)
		if err != nil {
			return eris.Wrap(err, "subjects add")
		}
		_, _ = fmt.Fprintf(os.Stdout, "%s %s\n", subj.ID, subj.Name)
		return nil
	},
}

// -- subjects list --

var subjectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked subjects",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		subjects, err := st.ListSubjects(ctx)
		if err != nil {
			return eris.Wrap(err, "subjects list")
		}
		if len(subjects) == 0 {
			fmt.Fprintln(os.Stderr, "No subjects found.")
			return nil
		}
		formatSubjectsList(os.Stdout, subjects)
		return nil
	},
}

// -- subjects import --

var subjectsImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Register subjects from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		inputs, err := loadSubjectFile(args[0])
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		for _, in := range inputs {
			if _, err := st.UpsertSubject(ctx, in); err != nil {
				return eris.Wrapf(err, "subjects import %s", in.Name)
			}
		}
		zap.L().Info("import complete",
			zap.Int("subjects", len(inputs)),
			zap.String("file", args[0]),
		)
		return nil
	},
}

func init() {
	subjectsAddCmd.Flags().String("club", "", "subject's current club")
	subjectsAddCmd.Flags().StringToString("handle", nil, "social handle as platform=value (repeatable)")

	subjectsCmd.AddCommand(subjectsAddCmd)
	subjectsCmd.AddCommand(subjectsListCmd)
	subjectsCmd.AddCommand(subjectsImportCmd)
	rootCmd.AddCommand(subjectsCmd)
}

type subjectFile struct {
	Subjects []model.SubjectInput `yaml:"subjects"`
}

// loadSubjectFile reads either a top-level list of subjects or a document
// with a "subjects" key. Every entry needs a name and known platforms.
func loadSubjectFile(path string) ([]model.SubjectInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read subject file")
	}

	var inputs []model.SubjectInput
	var doc subjectFile
	if err := yaml.Unmarshal(data, &doc); err == nil {
		inputs = doc.Subjects
	} else if err := yaml.Unmarshal(data, &inputs); err != nil {
		return nil, eris.Wrap(err, "parse subject file")
	}
	if len(inputs) == 0 {
		return nil, eris.New("subject file lists no subjects")
	}

	for i := range inputs {
		inputs[i].Name = strings.TrimSpace(inputs[i].Name)
		if inputs[i].Name == "" {
			return nil, eris.Errorf("subject %d: name is required", i+1)
		}
		for p := range inputs[i].Handles {
			if !knownPlatform(p) {
				return nil, eris.Errorf("subject %s: unknown platform %q", inputs[i].Name, p)
			}
		}
	}
	return inputs, nil
}

// formatSubjectsList writes a table of subjects to w.
func formatSubjectsList(w io.Writer, subjects []model.Subject) {
	rows := make([][]string, 0, len(subjects))
	for _, s := range subjects {
		handles := make([]string, 0, len(s.Handles))
		for _, p := range slices.Sorted(maps.Keys(s.Handles)) {
			handles = append(handles, string(p)+"="+s.Handles[p])
		}
		rows = append(rows, []string{
			truncateID(s.ID),
			s.Name,
			s.Club,
			truncate(strings.Join(handles, " "), 60),
			s.CreatedAt.Format("2006-01-02"),
		})
	}
	_, _ = fmt.Fprintln(w, renderTable([]string{"ID", "NAME", "CLUB", "HANDLES", "ADDED"}, rows, nil))
}
