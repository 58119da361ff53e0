package prompt_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/threat-modeling-mate/internal/domain/threatmodel"
	"github.com/bryanwahyu/threat-modeling-mate/internal/infra/ai/prompt"
)

const template = `AWSTemplateFormatVersion: "2010-09-09"
Resources:
  Bucket:
    Type: AWS::S3::Bucket
    Properties:
      AccessControl: PublicRead
`

func TestBuildThreatModelPrompt(t *testing.T) {
	t.Parallel()

	req, err := threatmodel.NewAnalysisRequest([]byte(template))
	require.NoError(t, err)

	got := prompt.BuildThreatModelPrompt(req)

	assert.Contains(t, got, "threat modeling", "role framing")
	assert.Contains(t, got, template, "IaC is embedded verbatim")
	for _, facet := range []string{"[Threats]", "[Priority]", "[remediation]"} {
		assert.Contains(t, got, facet)
	}
	for _, c := range threatmodel.StrideCategories() {
		assert.Contains(t, got, `"`+string(c)+`"`)
	}
	for _, p := range []string{`"High"`, `"Medium"`, `"Low"`} {
		assert.Contains(t, got, p)
	}
	assert.Equal(t, got, prompt.BuildThreatModelPrompt(req), "prompt must be deterministic")
}

func TestBuildThreatModelPromptSchemaMatchesExtractor(t *testing.T) {
	t.Parallel()

	req, err := threatmodel.NewAnalysisRequest([]byte(template))
	require.NoError(t, err)

	// The template has no braces, so the only object in the prompt is the
	// schema example.
	inv, err := threatmodel.Extract(prompt.BuildThreatModelPrompt(req))
	require.NoError(t, err)

	got := make([]threatmodel.Category, 0, inv.Len())
	for _, ct := range inv.Categories {
		got = append(got, ct.Category)
		require.NotEmpty(t, ct.Threats)
		assert.Equal(t, "threat 1", ct.Threats[0].ID)
	}
	assert.Equal(t, threatmodel.StrideCategories(), got)
}

func TestBuildThreatModelPromptWithoutInput(t *testing.T) {
	t.Parallel()

	got := prompt.BuildThreatModelPrompt(threatmodel.AnalysisRequest{})

	require.NotEmpty(t, got)
	assert.True(t, strings.Contains(got, "template:\n\nNone\n\n"), "absent IaC is embedded as a placeholder")
	assert.Contains(t, got, `"Elevation of Privilege"`)
}
