package threatmodel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const excerptLen = 200

type member struct {
	key   string
	value json.RawMessage
}

// Extract recovers the threat inventory embedded in raw model text.
//
// Everything before the first '{' and after the last '}' is treated as
// commentary and dropped. The span in between must decode as one JSON object
// whose values are objects themselves; anything else is a
// MalformedResponseError. Entries inside a category are not validated.
func Extract(raw string) (ThreatInventory, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return ThreatInventory{}, malformed(raw, "no JSON object found", nil)
	}
	span := []byte(raw[start : end+1])

	if !json.Valid(span) {
		var probe any
		err := json.Unmarshal(span, &probe)
		return ThreatInventory{}, malformed(raw, "payload is not valid JSON", err)
	}

	categories, err := decodeObject(span)
	if err != nil {
		return ThreatInventory{}, malformed(raw, "payload is not a JSON object", err)
	}

	var inv ThreatInventory
	index := make(map[Category]int, len(categories))
	for _, m := range categories {
		if !isObject(m.value) {
			return ThreatInventory{}, malformed(raw, fmt.Sprintf("category %q is not an object", m.key), nil)
		}
		entries, err := decodeObject(m.value)
		if err != nil {
			return ThreatInventory{}, malformed(raw, fmt.Sprintf("category %q", m.key), err)
		}

		cat, _ := canonicalCategory(m.key)
		i, seen := index[cat]
		if !seen {
			i = len(inv.Categories)
			index[cat] = i
			inv.Categories = append(inv.Categories, CategoryThreats{Category: cat, Threats: []Threat{}})
		}
		for _, e := range entries {
			inv.Categories[i].Threats = upsertThreat(inv.Categories[i].Threats, Threat{ID: e.key, ThreatRecord: decodeRecord(e.value)})
		}
	}

	sort.SliceStable(inv.Categories, func(a, b int) bool {
		return orderRank(inv.Categories[a].Category) < orderRank(inv.Categories[b].Category)
	})
	return inv, nil
}

// orderRank puts STRIDE categories first in canonical order; unknown ones
// share the last rank and keep their response order.
func orderRank(c Category) int {
	if r := categoryRank(c); r >= 0 {
		return r
	}
	return len(strideCategories)
}

// duplicate IDs keep their first position and the last value
func upsertThreat(threats []Threat, t Threat) []Threat {
	for i := range threats {
		if threats[i].ID == t.ID {
			threats[i] = t
			return threats
		}
	}
	return append(threats, t)
}

// decodeObject returns the members of a JSON object in document order.
func decodeObject(data []byte) ([]member, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var out []member
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", tok)
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, member{key: key, value: v})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// decodeRecord is lenient: fields with unexpected types are left empty.
func decodeRecord(raw json.RawMessage) ThreatRecord {
	rec := ThreatRecord{Remediations: []string{}}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return rec
	}

	var s string
	if json.Unmarshal(fields["description"], &s) == nil {
		rec.Description = s
	}
	s = ""
	if json.Unmarshal(fields["priority"], &s) == nil {
		rec.Priority = Priority(s)
	}

	var items []json.RawMessage
	if json.Unmarshal(fields["remediations"], &items) == nil {
		for _, it := range items {
			var r string
			if json.Unmarshal(it, &r) == nil {
				rec.Remediations = append(rec.Remediations, r)
			}
		}
	}
	return rec
}

func malformed(raw, reason string, err error) *MalformedResponseError {
	excerpt := raw
	if len(excerpt) > excerptLen {
		excerpt = excerpt[:excerptLen] + "..."
	}
	return &MalformedResponseError{Reason: reason, Excerpt: excerpt, Err: err}
}
