package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/notesync/internal/catalog"
	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/model"
)

func TestParseDateRange(t *testing.T) {
	tests := []struct {
		name      string
		from, to  string
		wantStart time.Time
		wantEnd   time.Time
		wantErr   bool
	}{
		{name: "open range"},
		{
			name:      "both bounds",
			from:      "2024-03-01",
			to:        "2024-03-31",
			wantStart: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		},
		{name: "bad from", from: "03/01/2024", wantErr: true},
		{name: "bad to", to: "tomorrow", wantErr: true},
		{name: "reversed", from: "2024-03-31", to: "2024-03-01", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDateRange(tt.from, tt.to)
			if tt.wantErr {
				var userErr *common.UserError
				require.ErrorAs(t, err, &userErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.wantStart.Equal(got.Start))
			assert.True(t, tt.wantEnd.Equal(got.End))
		})
	}
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		in      string
		want    model.ReviewStatus
		wantErr bool
	}{
		{in: "approve", want: model.ReviewApproved},
		{in: " Approved ", want: model.ReviewApproved},
		{in: "needs-revision", want: model.ReviewNeedsRevision},
		{in: "revise", want: model.ReviewNeedsRevision},
		{in: "REJECT", want: model.ReviewRejected},
		{in: "pending", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDecision(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatFileSize(t *testing.T) {
	assert.Equal(t, "512 B", formatFileSize(512))
	assert.Equal(t, "1.0 KB", formatFileSize(1024))
	assert.Equal(t, "1.5 MB", formatFileSize(1536*1024))
}

func TestFormatRelativeTime(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "just now", formatRelativeTime(now))
	assert.Equal(t, "1 minute ago", formatRelativeTime(now.Add(-90*time.Second)))
	assert.Equal(t, "3 hours ago", formatRelativeTime(now.Add(-3*time.Hour-time.Minute)))
	assert.Equal(t, "yesterday", formatRelativeTime(now.Add(-30*time.Hour)))

	old := now.Add(-30 * 24 * time.Hour)
	assert.Equal(t, old.Format("2006-01-02 15:04"), formatRelativeTime(old))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abcdef12", shortID("abcdef1234567890"))
	assert.Equal(t, "abc", shortID("abc"))
}

func TestUploadResumeHint(t *testing.T) {
	tests := []struct {
		name    string
		batchID string
		refs    []string
		want    string
	}{
		{name: "ids only", refs: []string{"3f2a91c0", "9bd4e211"}, want: "notesync upload 3f2a91c0 9bd4e211"},
		{name: "batch only", batchID: "batch-1", want: "notesync upload --batch batch-1"},
		{name: "both", batchID: "batch-1", refs: []string{"3f2a91c0"}, want: "notesync upload 3f2a91c0 --batch batch-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := uploadResumeHint(tt.batchID, tt.refs)
			assert.Equal(t, tt.want, got)
			assert.NotRegexp(t, `--batch\s*$`, got, "no dangling flag")
		})
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable(
		[]string{"Name", "Count"},
		[][]string{{"alpha", "1"}, {"beta", "22"}},
		[]columnAlignment{alignLeft, alignRight},
	)
	for _, want := range []string{"Name", "Count", "alpha", "beta", "22"} {
		assert.Contains(t, out, want)
	}
}

// execute runs the root command against an isolated config and database.
func execute(t *testing.T, dir string, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	full := append([]string{
		"--config", filepath.Join(dir, "config.yaml"),
		"--env-file", "",
		"--db", filepath.Join(dir, "notesync.db"),
		"--log-level", "error",
	}, args...)
	rootCmd.SetArgs(full)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("logging:\n  level: error\n"), 0600))

	t.Run("version", func(t *testing.T) {
		assert.Contains(t, execute(t, dir, "version"), "notesync dev")
	})

	t.Run("migrate", func(t *testing.T) {
		assert.Contains(t, execute(t, dir, "migrate"), "schema version 4")
		assert.Contains(t, execute(t, dir, "migrate", "--status"), "Schema version: 4 (latest 4)")
	})

	t.Run("catalog export", func(t *testing.T) {
		out := execute(t, dir, "catalog", "export")
		assert.Contains(t, out, "version: "+catalog.DefaultVersion)
		assert.Contains(t, out, "requirements:")
	})

	t.Run("catalog export to toml file", func(t *testing.T) {
		path := filepath.Join(dir, "rules.toml")
		execute(t, dir, "catalog", "export", "--output", path)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		snap, err := catalog.Parse(data, catalog.FormatTOML)
		require.NoError(t, err)
		assert.Equal(t, catalog.DefaultVersion, snap.Version())
	})

	t.Run("checkpoints", func(t *testing.T) {
		assert.Contains(t, execute(t, dir, "checkpoint", "create", "--tag", "before-test"), "before-test")

		out := execute(t, dir, "checkpoint", "list")
		assert.Contains(t, out, "before-test")
		assert.Contains(t, out, "manual")

		assert.Contains(t, execute(t, dir, "checkpoint", "delete", "before-test", "--force"), "Deleted checkpoint")
		assert.True(t, strings.Contains(execute(t, dir, "checkpoint", "list"), "No checkpoints found"))
	})
}
