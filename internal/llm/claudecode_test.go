package llm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/notesync/internal/common"
)

// fakeCLI writes an executable script standing in for the claude binary.
func fakeCLI(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claude")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o700)) //nolint:gosec // test helper
	return path
}

func TestClaudeCodeClient_Complete(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		want    string
		wantErr bool
	}{
		{
			name:   "json output",
			script: `echo '{"type":"result","result":"Cleaned note","is_error":false}'`,
			want:   "Cleaned note",
		},
		{
			name:   "plain text output",
			script: `echo "  plain answer  "`,
			want:   "plain answer",
		},
		{
			name:    "error flagged in response",
			script:  `echo '{"result":"quota","is_error":true}'`,
			wantErr: true,
		},
		{
			name:    "non-zero exit",
			script:  `echo "boom" >&2; exit 1`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := newClaudeCodeClient(Config{ClaudeCodePath: fakeCLI(t, tt.script)})
			require.NoError(t, err)

			got, err := client.Complete(context.Background(), "prompt")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewClaudeCodeClient_MissingBinary(t *testing.T) {
	_, err := newClaudeCodeClient(Config{ClaudeCodePath: filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, err)
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(Config{Provider: "OpenAI", APIKey: "k"})
	require.NoError(t, err)

	_, err = NewClient(Config{Provider: "anthropic", APIKey: "k"})
	require.NoError(t, err)

	_, err = NewClient(Config{Provider: "parrot"})
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}
