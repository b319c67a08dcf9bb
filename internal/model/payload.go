// internal/model/payload.go
package model

import "encoding/json"

// MergeIntoPayload parses an opaque JSON payload, sets one key, and re-serializes.
// The core never interprets payloads beyond this pattern: content schemas belong
// to the channels, not to us. A payload that is empty or not a JSON object is
// replaced by a fresh object holding only the merged key.
func MergeIntoPayload(payload, key string, value any) string {
	data := map[string]any{}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &data); err != nil {
			data = map[string]any{}
		}
	}
	data[key] = value
	out, err := json.Marshal(data)
	if err != nil {
		return payload
	}
	return string(out)
}
