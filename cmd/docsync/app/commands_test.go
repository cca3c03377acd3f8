package app

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCmd_HasSubcommands(t *testing.T) {
	root := NewRootCmd()

	names := make(map[string]bool)
	for _, sub := range root.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"sync", "plan", "reconcile", "combine", "validate", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestSyncCommand_RequiresConfigFlag(t *testing.T) {
	root := NewRootCmd()
	root.SetArgs([]string{"sync"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config")
}

func TestCombineCommand_RejectsMalformedSource(t *testing.T) {
	root := NewRootCmd()
	root.SetArgs([]string{"combine",
		"--source", "no-equals-sign",
		"--out", filepath.Join(t.TempDir(), "manifest.json"),
	})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TYPE=PATH")
}

func TestCombineCommand_WritesManifest(t *testing.T) {
	dir := t.TempDir()

	guideIndex := filepath.Join(dir, "guides.json")
	require.NoError(t, os.WriteFile(guideIndex,
		[]byte(`{"documents":[{"file":"onboarding.txt","title":"Onboarding"}]}`), 0600))
	policyIndex := filepath.Join(dir, "policies.json")
	require.NoError(t, os.WriteFile(policyIndex,
		[]byte(`{"documents":[{"file":"leave_policy.json"}]}`), 0600))

	outPath := filepath.Join(dir, "manifest.json")
	root := NewRootCmd()
	root.SetArgs([]string{"combine",
		"--source", "Guide=" + guideIndex,
		"--source", "Policy=" + policyIndex,
		"--out", outPath,
	})
	require.NoError(t, root.Execute())

	raw, err := os.ReadFile(outPath)
	require.NoError(t, err)

	var payload struct {
		Documents []map[string]any `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Len(t, payload.Documents, 2)
	assert.Equal(t, "onboarding.json", payload.Documents[0]["file"])
	assert.Equal(t, "Guide", payload.Documents[0]["documentType"])
	assert.Equal(t, "Policy", payload.Documents[1]["documentType"])
}

func TestBoolFlag_ExplicitFalseOverridesFallback(t *testing.T) {
	cmd := newSyncCmd()
	require.NoError(t, cmd.Flags().Set("dry-run", "false"))

	// A config-level dryRun: true must lose to an explicit --dry-run=false.
	assert.False(t, boolFlag(cmd, "dry-run", true))
}

func TestBoolFlag_UnsetUsesFallback(t *testing.T) {
	cmd := newSyncCmd()

	assert.True(t, boolFlag(cmd, "dry-run", true))
	assert.False(t, boolFlag(cmd, "dry-run", false))
	assert.True(t, boolFlag(cmd, "no-such-flag", true))
}

func TestVersionCommand_JSONOutput(t *testing.T) {
	root := NewRootCmd()
	root.SetArgs([]string{"version", "--format", "json"})
	require.NoError(t, root.Execute())
}
