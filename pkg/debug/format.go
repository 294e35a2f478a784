package debug

import (
	"encoding/json"
	"strings"
)

// extractFenced pulls the content between the first occurrence of open and
// the last occurrence of close in s, matching the reference
// implementation's return_val.find("```json") ... return_val.rfind("```")
// slicing (so trailing prose after the fence doesn't break extraction).
func extractFenced(s, open, close string) (string, bool) {
	start := strings.Index(s, open)
	if start < 0 {
		return "", false
	}
	start += len(open)
	end := strings.LastIndex(s, close)
	if end < start {
		return "", false
	}
	return strings.TrimSpace(s[start:end]), true
}

func parseRulesJSON(raw string) ([]Rule, error) {
	var entries []struct {
		Old string `json:"old"`
		New string `json:"new"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}
	out := make([]Rule, len(entries))
	for i, e := range entries {
		out[i] = Rule{Old: e.Old, New: e.New}
	}
	return out, nil
}

func renderRulesJSON(rules []Rule) string {
	type entry struct {
		Old string `json:"old"`
		New string `json:"new"`
	}
	entries := make([]entry, len(rules))
	for i, r := range rules {
		entries[i] = entry{Old: r.Old, New: r.New}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return "[]"
	}
	return string(b)
}
