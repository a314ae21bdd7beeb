package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/athlete-monitor/internal/model"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadSubjectFile_Document(t *testing.T) {
	p := writeFile(t, "subjects.yaml", `
subjects:
  - name: " Pedro Pérez "
    club: Real Betis
    handles:
      twitter: pperez
      profile: https://stats.example.com/pedro-perez
  - name: Ana López
`)
	inputs, err := loadSubjectFile(p)
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	assert.Equal(t, "Pedro Pérez", inputs[0].Name)
	assert.Equal(t, "Real Betis", inputs[0].Club)
	assert.Equal(t, "pperez", inputs[0].Handles[model.PlatformTwitter])
	assert.Equal(t, "https://stats.example.com/pedro-perez", inputs[0].Handles[model.PlatformProfile])
	assert.Equal(t, "Ana López", inputs[1].Name)
}

func TestLoadSubjectFile_TopLevelList(t *testing.T) {
	p := writeFile(t, "subjects.yaml", `
- name: Luis Gil
  club: Sevilla
`)
	inputs, err := loadSubjectFile(p)
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, "Sevilla", inputs[0].Club)
}

func TestLoadSubjectFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"empty", "subjects: []\n", "lists no subjects"},
		{"missing name", "- club: Sevilla\n", "name is required"},
		{"unknown platform", "- name: Luis Gil\n  handles:\n    myspace: luis\n", `unknown platform "myspace"`},
		{"not yaml", "::: [", "parse subject file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadSubjectFile(writeFile(t, "s.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := loadSubjectFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read subject file")
}

func TestSubjectInputFromFlags(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("club", "", "")
	cmd.Flags().StringToString("handle", nil, "")
	require.NoError(t, cmd.Flags().Parse([]string{"--club", "Real Betis", "--handle", "Twitter=pperez", "--handle", "reddit=u/pperez"}))

	in, err := subjectInputFromFlags(cmd, " Pedro Pérez ")
	require.NoError(t, err)
	assert.Equal(t, "Pedro Pérez", in.Name)
	assert.Equal(t, "Real Betis", in.Club)
	assert.Equal(t, map[model.Platform]string{
		model.PlatformTwitter: "pperez",
		model.PlatformReddit:  "u/pperez",
	}, in.Handles)

	bad := &cobra.Command{}
	bad.Flags().String("club", "", "")
	bad.Flags().StringToString("handle", nil, "")
	require.NoError(t, bad.Flags().Parse([]string{"--handle", "myspace=x"}))
	_, err = subjectInputFromFlags(bad, "Pedro Pérez")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown platform")
}

func TestFormatSubjectsList(t *testing.T) {
	subjects := []model.Subject{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			Name:      "Pedro Pérez",
			Club:      "Real Betis",
			Handles:   map[model.Platform]string{model.PlatformTwitter: "pperez", model.PlatformInstagram: "pedro.perez"},
			CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	formatSubjectsList(&buf, subjects)
	out := buf.String()

	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "Pedro Pérez")
	assert.Contains(t, out, "instagram=pedro.perez twitter=pperez")
	assert.Contains(t, out, "2026-03-01")
}
