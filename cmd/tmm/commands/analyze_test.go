package commands_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/threat-modeling-mate/cmd/tmm/commands"
	"github.com/bryanwahyu/threat-modeling-mate/internal/config"
	"github.com/bryanwahyu/threat-modeling-mate/internal/domain/threatmodel"
)

const modelReply = `{"Tampering": {"threat 1": {"description": "Bucket without versioning", "priority": "Medium", "remediations": ["Enable versioning"]}},
"Spoofing": {"threat 1": {"description": "IAM user without MFA", "priority": "High", "remediations": ["Enforce MFA", "Rotate keys"]},
             "threat 2": {"description": "Shared root credentials", "priority": "Critical", "remediations": []}}}`

type fakeInvoker struct {
	reply string
	err   error
	calls int
}

func (f *fakeInvoker) Invoke(context.Context, string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func newApp(t *testing.T, inv *fakeInvoker, stdin string) (app *commands.App, out, errOut *bytes.Buffer) {
	t.Helper()

	app = commands.New(commands.WithInvoker(func(*config.Config) threatmodel.Invoker { return inv }))
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	app.SetIO(strings.NewReader(stdin), out, errOut)
	return app, out, errOut
}

func TestAnalyze(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "stack.yaml")
	require.NoError(t, os.WriteFile(input, []byte("Resources: {}\n"), 0o600))
	output := filepath.Join(dir, "out.json")

	inv := &fakeInvoker{reply: modelReply}
	app, out, _ := newApp(t, inv, "")

	err := app.ExecuteContext(context.Background(), "analyze", input,
		"--config", filepath.Join(dir, "missing.yaml"), "--output", output)
	require.NoError(t, err)
	assert.Equal(t, 1, inv.calls)

	got := out.String()
	assert.Contains(t, got, "CATEGORY")
	assert.Regexp(t, `Spoofing\s+2\s+1\s+0\s+0`, got, "Critical counts only in total")
	assert.Regexp(t, `Tampering\s+1\s+0\s+1\s+0`, got)
	assert.Regexp(t, `All\s+3\s+1\s+1\s+0`, got)
	assert.Contains(t, got, threatmodel.CategorySpoofing.Description())
	assert.Contains(t, got, "threat 1 [High] IAM user without MFA")
	assert.Contains(t, got, "* Rotate keys")
	assert.NotContains(t, got, "Repudiation", "absent categories are omitted")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	exported, err := threatmodel.Extract(string(data))
	require.NoError(t, err)
	assert.Equal(t, 2, exported.Len())
}

func TestAnalyzeFlags(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		args  []string
		stdin string

		wantContains []string
		wantJSON     bool
	}{
		"Include missing categories": {
			args:         []string{"--include-missing"},
			wantContains: []string{"Repudiation", "Elevation of Privilege"},
		},
		"JSON output": {
			args:     []string{"--json"},
			wantJSON: true,
		},
		"Read from stdin": {
			args:         []string{},
			stdin:        "resource \"aws_s3_bucket\" \"b\" {}",
			wantContains: []string{"Spoofing"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			input := "-"
			if tc.stdin == "" {
				input = filepath.Join(dir, "main.tf")
				require.NoError(t, os.WriteFile(input, []byte("resource {}"), 0o600))
			}

			app, out, _ := newApp(t, &fakeInvoker{reply: modelReply}, tc.stdin)
			args := append([]string{"analyze", input, "--config", filepath.Join(dir, "none.yaml"), "--output", ""}, tc.args...)
			require.NoError(t, app.ExecuteContext(context.Background(), args...))

			if tc.wantJSON {
				var res map[string]any
				require.NoError(t, json.Unmarshal(out.Bytes(), &res))
				assert.Contains(t, res, "inventory")
				assert.Contains(t, res, "summary")
				return
			}
			for _, s := range tc.wantContains {
				assert.Contains(t, out.String(), s)
			}
			assert.NotContains(t, out.String(), "Export written")
		})
	}
}

func TestAnalyzeErrors(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		content  *string
		reply    string
		invErr   error
		noConfig bool

		wantCalls int
		wantIs    error
	}{
		"Error on empty file":         {content: ptr("  \n"), wantIs: threatmodel.ErrMissingInput},
		"Error on missing file":       {},
		"Error on model failure":      {content: ptr("Resources: {}"), invErr: &threatmodel.ModelInvocationError{Reason: threatmodel.ReasonAuth}, wantCalls: 1, wantIs: threatmodel.ErrModelInvocation},
		"Error on malformed response": {content: ptr("Resources: {}"), reply: "cannot help", wantCalls: 1, wantIs: threatmodel.ErrMalformedResponse},
		"Error on invalid config":     {content: ptr("Resources: {}"), noConfig: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			input := filepath.Join(dir, "stack.yaml")
			if tc.content != nil {
				require.NoError(t, os.WriteFile(input, []byte(*tc.content), 0o600))
			}
			cfgPath := filepath.Join(dir, "config.yaml")
			if tc.noConfig {
				require.NoError(t, os.WriteFile(cfgPath, []byte("model: ["), 0o600))
			}
			output := filepath.Join(dir, "out.json")

			inv := &fakeInvoker{reply: tc.reply, err: tc.invErr}
			app, out, _ := newApp(t, inv, "")
			err := app.ExecuteContext(context.Background(), "analyze", input, "--config", cfgPath, "--output", output)
			require.Error(t, err)
			if tc.wantIs != nil {
				assert.True(t, errors.Is(err, tc.wantIs), "unexpected error: %v", err)
			}
			assert.Equal(t, tc.wantCalls, inv.calls, "model calls")
			assert.Empty(t, out.String(), "no partial output")
			assert.NoFileExists(t, output, "no partial export")
		})
	}
}

func TestCategories(t *testing.T) {
	t.Parallel()

	app, out, _ := newApp(t, &fakeInvoker{}, "")
	require.NoError(t, app.ExecuteContext(context.Background(), "categories"))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 6)
	assert.True(t, strings.HasPrefix(lines[0], "Spoofing"))
	assert.True(t, strings.HasPrefix(lines[5], "Elevation of Privilege"))
}

func TestUsageErrors(t *testing.T) {
	t.Parallel()

	app, _, _ := newApp(t, &fakeInvoker{}, "")
	require.Error(t, app.ExecuteContext(context.Background(), "analyze"), "FILE is required")
}

func ptr(s string) *string { return &s }
