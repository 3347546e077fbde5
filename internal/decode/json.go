package decode

import "encoding/json"

// decodeJSON handles the JSON branch: bytes are converted to text with
// invalid-sequence replacement (the conversion itself never fails) and then
// parsed. Anything that is not a JSON object yields nil so the caller
// archives the raw payload.
func decodeJSON(payload []byte, topic string) map[string]any {
	text := lossyString(payload)
	if text == "" {
		return nil
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil
	}
	if fields == nil {
		return nil
	}

	// The JSON convention has no topic key; keep the originating topic with
	// the payload so the raw-archive path preserves it.
	if _, ok := fields["topic"]; !ok {
		fields["topic"] = topic
	}
	return fields
}
