package threatmodel

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Category adalah nama kategori STRIDE
type Category string

const (
	CategorySpoofing              Category = "Spoofing"
	CategoryTampering             Category = "Tampering"
	CategoryRepudiation           Category = "Repudiation"
	CategoryInformationDisclosure Category = "Information Disclosure"
	CategoryDenialOfService       Category = "Denial of Service"
	CategoryElevationOfPrivilege  Category = "Elevation of Privilege"
)

var strideCategories = []Category{
	CategorySpoofing,
	CategoryTampering,
	CategoryRepudiation,
	CategoryInformationDisclosure,
	CategoryDenialOfService,
	CategoryElevationOfPrivilege,
}

var categoryDescriptions = map[Category]string{
	CategorySpoofing:              "Impersonation of something or someone else.",
	CategoryTampering:             "Modifying data or code without authorization.",
	CategoryRepudiation:           "Denying having performed an action.",
	CategoryInformationDisclosure: "Exposing information to unauthorized individuals.",
	CategoryDenialOfService:       "Denying or degrading service to users.",
	CategoryElevationOfPrivilege:  "Gaining capabilities without proper authorization.",
}

// StrideCategories returns the six STRIDE categories in canonical order.
func StrideCategories() []Category {
	out := make([]Category, len(strideCategories))
	copy(out, strideCategories)
	return out
}

// Description returns a one-line explanation of the category.
func (c Category) Description() string {
	if d, ok := categoryDescriptions[c]; ok {
		return d
	}
	return "No description available."
}

// canonicalCategory maps loose spellings such as "InformationDisclosure" or
// "denial of service" onto the canonical STRIDE name.
func canonicalCategory(name string) (Category, bool) {
	key := foldCategory(name)
	for _, c := range strideCategories {
		if foldCategory(string(c)) == key {
			return c, true
		}
	}
	return Category(name), false
}

func foldCategory(s string) string {
	s = strings.ToLower(s)
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}

func categoryRank(c Category) int {
	for i, sc := range strideCategories {
		if sc == c {
			return i
		}
	}
	return -1
}

// Priority enum
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// Valid is case-sensitive: "high" is not a recognised priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// AnalysisRequest is the immutable input of one analysis run.
type AnalysisRequest struct {
	iacText    string
	categories []Category
}

// NewAnalysisRequest wraps an uploaded artifact. A nil or blank artifact is
// reported as MissingInputError so the model is never called for it.
func NewAnalysisRequest(iac []byte) (AnalysisRequest, error) {
	if len(bytes.TrimSpace(iac)) == 0 {
		return AnalysisRequest{}, &MissingInputError{}
	}
	return AnalysisRequest{iacText: string(iac), categories: StrideCategories()}, nil
}

// IaCText returns the artifact text exactly as uploaded.
func (r AnalysisRequest) IaCText() string { return r.iacText }

// Categories returns the categories the model has to report on.
func (r AnalysisRequest) Categories() []Category {
	if r.categories == nil {
		return StrideCategories()
	}
	out := make([]Category, len(r.categories))
	copy(out, r.categories)
	return out
}

// ThreatRecord is one threat as reported by the model. Priority is kept as
// returned; it is not validated.
type ThreatRecord struct {
	Description  string   `json:"description"`
	Priority     Priority `json:"priority"`
	Remediations []string `json:"remediations"`
}

// Threat pairs a record with its identifier inside a category.
type Threat struct {
	ID string
	ThreatRecord
}

// CategoryThreats lists the threats of one category in response order.
type CategoryThreats struct {
	Category Category
	Threats  []Threat
}

// ThreatInventory maps categories to their threats while keeping a stable
// iteration order.
type ThreatInventory struct {
	Categories []CategoryThreats
}

// Len returns the number of categories present.
func (inv ThreatInventory) Len() int { return len(inv.Categories) }

// Get returns the threats reported for a category.
func (inv ThreatInventory) Get(c Category) (CategoryThreats, bool) {
	for _, ct := range inv.Categories {
		if ct.Category == c {
			return ct, true
		}
	}
	return CategoryThreats{}, false
}

// MarshalJSON writes the inventory as a nested object whose key order
// follows the inventory order.
func (inv ThreatInventory) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, ct := range inv.Categories {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, string(ct.Category)); err != nil {
			return nil, err
		}
		buf.WriteByte('{')
		for j, t := range ct.Threats {
			if j > 0 {
				buf.WriteByte(',')
			}
			if err := writeKey(&buf, t.ID); err != nil {
				return nil, err
			}
			rec := t.ThreatRecord
			if rec.Remediations == nil {
				rec.Remediations = []string{}
			}
			b, err := json.Marshal(rec)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	b, err := json.Marshal(key)
	if err != nil {
		return err
	}
	buf.Write(b)
	buf.WriteByte(':')
	return nil
}

// Export renders the inventory as indented JSON for download.
func (inv ThreatInventory) Export() ([]byte, error) {
	return json.MarshalIndent(inv, "", "    ")
}

// CategorySummary is derived on every aggregation and never stored.
type CategorySummary struct {
	Category Category `json:"category"`
	Total    int      `json:"total"`
	High     int      `json:"high"`
	Medium   int      `json:"medium"`
	Low      int      `json:"low"`
}
