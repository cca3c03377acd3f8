package index

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhadocs/docsync/internal/canonical"
)

// writeCorpus lays out a manifest plus per-type source files and returns the
// manifest path and a configured loader.
func writeCorpus(t *testing.T, manifest string, policies, guides map[string]string) (string, *Loader) {
	t.Helper()

	root := t.TempDir()
	policyDir := filepath.Join(root, "policies")
	guideDir := filepath.Join(root, "guides")
	require.NoError(t, os.MkdirAll(policyDir, 0750))
	require.NoError(t, os.MkdirAll(guideDir, 0750))

	for name, content := range policies {
		require.NoError(t, os.WriteFile(filepath.Join(policyDir, name), []byte(content), 0600))
	}
	for name, content := range guides {
		require.NoError(t, os.WriteFile(filepath.Join(guideDir, name), []byte(content), 0600))
	}

	manifestPath := filepath.Join(root, "manifest.json")
	require.NoError(t, os.WriteFile(manifestPath, []byte(manifest), 0600))

	loader := NewLoader(canonical.NewHasher(nil),
		WithCorpusDir("Policy", policyDir),
		WithCorpusDir("Guide", guideDir),
		WithDefaultDir(policyDir),
	)
	return manifestPath, loader
}

func TestLoad_BuildsIndexWithManifestFirst(t *testing.T) {
	t.Parallel()

	manifest := `{"documents":[
		{"file":"leave_policy.json","title":"Leave Policy","documentType":"Policy"},
		{"file":"onboarding.json","documentType":"Guide"}
	]}`
	manifestPath, loader := writeCorpus(t, manifest,
		map[string]string{"leave_policy.json": `{"title":"Leave Policy","body":"..."}`},
		map[string]string{"onboarding.json": `{"body":"welcome"}`},
	)

	idx, err := loader.Load(manifestPath)
	require.NoError(t, err)
	require.Len(t, idx.Documents, 3)
	assert.Empty(t, idx.Skipped)

	self := idx.Documents[0]
	assert.Equal(t, "manifest.json", self.ExternalID)
	assert.Equal(t, idx.ManifestID, self.ExternalID)
	assert.Equal(t, ManifestDocumentType, self.DocumentType)
	assert.NotEmpty(t, self.ContentHash)

	assert.Equal(t, "leave_policy.json", idx.Documents[1].ExternalID)
	assert.Equal(t, "Leave Policy", idx.Documents[1].Title)
	assert.Equal(t, "Policy", idx.Documents[1].DocumentType)

	// Title falls back to the external id when neither the document nor the
	// manifest entry names one.
	assert.Equal(t, "onboarding.json", idx.Documents[2].Title)
}

func TestLoad_MissingSourceFileFailsRun(t *testing.T) {
	t.Parallel()

	manifest := `{"documents":[{"file":"nope.json","documentType":"Policy"}]}`
	manifestPath, loader := writeCorpus(t, manifest, nil, nil)

	_, err := loader.Load(manifestPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.json")
}

func TestLoad_MalformedDocumentIsSkippedNotFatal(t *testing.T) {
	t.Parallel()

	manifest := `{"documents":[
		{"file":"good.json","documentType":"Policy"},
		{"file":"bad.json","documentType":"Policy"}
	]}`
	manifestPath, loader := writeCorpus(t, manifest,
		map[string]string{
			"good.json": `{"body":"fine"}`,
			"bad.json":  `{"body": unquoted}`,
		}, nil)

	idx, err := loader.Load(manifestPath)
	require.NoError(t, err)

	require.Len(t, idx.Skipped, 1)
	assert.Equal(t, "bad.json", idx.Skipped[0].ExternalID)
	assert.True(t, canonical.IsCanonicalizationError(idx.Skipped[0].Err))

	assert.True(t, idx.Contains("good.json"))
	assert.False(t, idx.Contains("bad.json"))
}

func TestLoad_DuplicateExternalIDFails(t *testing.T) {
	t.Parallel()

	manifest := `{"documents":[
		{"file":"dup.json","documentType":"Policy"},
		{"file":"dup.json","documentType":"Guide"}
	]}`
	manifestPath, loader := writeCorpus(t, manifest,
		map[string]string{"dup.json": `{}`},
		map[string]string{"dup.json": `{}`},
	)

	_, err := loader.Load(manifestPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate external id")
}

func TestLoad_ManifestHashStableUnderReordering(t *testing.T) {
	t.Parallel()

	docs := map[string]string{
		"a.json": `{"body":"a"}`,
		"b.json": `{"body":"b"}`,
	}
	forward := `{"documents":[
		{"file":"a.json","documentType":"Policy"},
		{"file":"b.json","documentType":"Policy"}
	]}`
	reversed := `{"documents":[
		{"file":"b.json","documentType":"Policy"},
		{"file":"a.json","documentType":"Policy"}
	]}`

	pathA, loaderA := writeCorpus(t, forward, docs, nil)
	idxA, err := loaderA.Load(pathA)
	require.NoError(t, err)

	pathB, loaderB := writeCorpus(t, reversed, docs, nil)
	idxB, err := loaderB.Load(pathB)
	require.NoError(t, err)

	assert.Equal(t, idxA.Documents[0].ContentHash, idxB.Documents[0].ContentHash)
}

func TestLoad_ManifestHashChangesWithEntries(t *testing.T) {
	t.Parallel()

	docs := map[string]string{
		"a.json": `{"body":"a"}`,
		"b.json": `{"body":"b"}`,
	}
	one := `{"documents":[{"file":"a.json","documentType":"Policy"}]}`
	two := `{"documents":[
		{"file":"a.json","documentType":"Policy"},
		{"file":"b.json","documentType":"Policy"}
	]}`

	pathA, loaderA := writeCorpus(t, one, docs, nil)
	idxA, err := loaderA.Load(pathA)
	require.NoError(t, err)

	pathB, loaderB := writeCorpus(t, two, docs, nil)
	idxB, err := loaderB.Load(pathB)
	require.NoError(t, err)

	assert.NotEqual(t, idxA.Documents[0].ContentHash, idxB.Documents[0].ContentHash)
}

func TestCombine_MergesAndNormalizes(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	guideIndex := filepath.Join(root, "guides_index.json")
	require.NoError(t, os.WriteFile(guideIndex, []byte(`{"documents":[
		{"file":"onboarding.txt","title":"Onboarding"},
		{"file":"benefits","title":"Benefits"}
	]}`), 0600))

	policyIndex := filepath.Join(root, "policies_index.json")
	require.NoError(t, os.WriteFile(policyIndex, []byte(`{"documents":[
		{"file":"leave_policy.json","documentType":"Policy","revision":3}
	]}`), 0600))

	outPath := filepath.Join(root, "out", "manifest.json")
	report, err := Combine([]Source{
		{Path: guideIndex, DefaultType: "Guide"},
		{Path: policyIndex, DefaultType: "Policy"},
	}, outPath)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.PerSource[guideIndex])
	assert.Equal(t, 1, report.PerSource[policyIndex])

	raw, err := os.ReadFile(outPath)
	require.NoError(t, err)

	var payload struct {
		Documents []map[string]any `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Len(t, payload.Documents, 3)

	assert.Equal(t, "onboarding.json", payload.Documents[0]["file"])
	assert.Equal(t, "Guide", payload.Documents[0]["documentType"])
	assert.Equal(t, "benefits.json", payload.Documents[1]["file"])
	assert.Equal(t, "leave_policy.json", payload.Documents[2]["file"])
	// Extra source fields survive the merge.
	assert.Equal(t, float64(3), payload.Documents[2]["revision"])
}

func TestCombine_RejectsDuplicatesAcrossSources(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	first := filepath.Join(root, "a.json")
	require.NoError(t, os.WriteFile(first, []byte(`{"documents":[{"file":"same.json"}]}`), 0600))
	second := filepath.Join(root, "b.json")
	require.NoError(t, os.WriteFile(second, []byte(`{"documents":[{"file":"same.json"}]}`), 0600))

	_, err := Combine([]Source{
		{Path: first, DefaultType: "Guide"},
		{Path: second, DefaultType: "Policy"},
	}, filepath.Join(root, "manifest.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestCombine_MissingSourceFails(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	_, err := Combine([]Source{{Path: filepath.Join(root, "absent.json"), DefaultType: "Guide"}},
		filepath.Join(root, "manifest.json"))
	require.Error(t, err)
}
