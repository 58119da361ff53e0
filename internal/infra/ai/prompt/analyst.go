package prompt

import (
	"fmt"
	"strings"

	"github.com/bryanwahyu/threat-modeling-mate/internal/domain/threatmodel"
)

// missingIaC is embedded when no artifact text is available. Callers are
// expected to stop before sending such a prompt.
const missingIaC = "None"

// examplesPerCategory is how many placeholder threats the schema example
// shows for the first category.
const examplesPerCategory = 2

// BuildThreatModelPrompt renders the single user message sent to the model.
// The output only depends on the request, so the same artifact always yields
// the same prompt.
func BuildThreatModelPrompt(req threatmodel.AnalysisRequest) string {
	iac := req.IaCText()
	if strings.TrimSpace(iac) == "" {
		iac = missingIaC
	}
	categories := req.Categories()

	var b strings.Builder
	b.WriteString("You are a trusted cloud security expert specialised in threat modeling.\n")
	b.WriteString("Now you need to evaluate the threat model of the application defined by the following infrastructure-as-code template:\n\n")
	b.WriteString(iac)
	b.WriteString("\n\n")

	b.WriteString("Please provide a comprehensive threat modeling report that includes:\n")
	fmt.Fprintf(&b, "1. [Threats] identified based on the STRIDE categories, including %s;\n", quoteList(categories))
	fmt.Fprintf(&b, "2. [Priority] of each threat discovered, ranging from %s;\n",
		quoteList([]threatmodel.Priority{threatmodel.PriorityHigh, threatmodel.PriorityMedium, threatmodel.PriorityLow}))
	b.WriteString("3. Relevant [remediation] strategies for each identified threat;\n\n")

	b.WriteString("IMPORTANT: Organize the output strictly as one JSON object, using the category names above as top-level keys. ")
	b.WriteString("Omit a category only if no threat applies to it. The following is an example:\n\n")
	b.WriteString(schemaExample(categories))
	b.WriteString("\n")
	return b.String()
}

// schemaExample writes the expected nested object literally, so the model
// sees the same category names the extractor recognises.
func schemaExample(categories []threatmodel.Category) string {
	var b strings.Builder
	b.WriteString("{\n")
	for i, c := range categories {
		fmt.Fprintf(&b, "  %q: {\n", string(c))
		n := 1
		if i == 0 {
			n = examplesPerCategory
		}
		for j := 1; j <= n; j++ {
			fmt.Fprintf(&b, "    \"threat %d\": {\n", j)
			fmt.Fprintf(&b, "      \"description\": \"threat %d description\",\n", j)
			b.WriteString("      \"priority\": \"High | Medium | Low\",\n")
			b.WriteString("      \"remediations\": [\"remediation 1\", \"remediation 2\"]\n")
			b.WriteString("    }")
			if j < n {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		b.WriteString("  }")
		if i < len(categories)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}")
	return b.String()
}

func quoteList[T ~string](items []T) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = fmt.Sprintf("%q", string(it))
	}
	return strings.Join(quoted, ", ")
}
