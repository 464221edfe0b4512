package agent

import "strings"

// ExtractSQL strips markdown code fences the model may wrap the query in
func ExtractSQL(raw string) string {
	s := strings.ReplaceAll(raw, "```sql", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
