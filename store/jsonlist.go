package store

import "encoding/json"

// encodeStrings and decodeStrings serialize string lists (manager_ids,
// accountant_ids, recipient_ids, keywords) as JSON text so the same column
// type works on both the postgres and sqlite drivers.
func encodeStrings(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(raw), &ss); err != nil {
		return nil
	}
	return ss
}
