package rpc

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"

	json "github.com/json-iterator/go"
)

// ContentItem is one entry of the generic content wrapper.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ContentEnvelope is the generic wrapper some peers put around a result:
// {"content":[{"type":"text","text":"<serialized json>"}]}.
type ContentEnvelope struct {
	Content []ContentItem `json:"content"`
}

// Result is the raw result of a resolved call.
type Result stdjson.RawMessage

// Unwrap performs the best-effort secondary decode. When the result is a
// content wrapper, the first text item is parsed as JSON; text that is not
// JSON is returned as a JSON string. Anything else is returned unchanged.
// Unwrap never fails.
func (r Result) Unwrap() stdjson.RawMessage {
	raw := bytes.TrimSpace(r)
	if len(raw) == 0 || raw[0] != '{' {
		return stdjson.RawMessage(raw)
	}

	var env struct {
		Content *[]ContentItem `json:"content"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || env.Content == nil {
		return stdjson.RawMessage(raw)
	}
	for _, item := range *env.Content {
		if item.Type != "text" {
			continue
		}
		text := bytes.TrimSpace([]byte(item.Text))
		if len(text) > 0 && json.Valid(text) {
			return stdjson.RawMessage(text)
		}
		quoted, err := json.Marshal(item.Text)
		if err != nil {
			return stdjson.RawMessage(raw)
		}
		return quoted
	}
	return stdjson.RawMessage(raw)
}

// Decode unwraps the result and unmarshals it into v.
func (r Result) Decode(v interface{}) error {
	if err := json.Unmarshal(r.Unwrap(), v); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

// WrapText serializes v and places it in a single-item content wrapper.
func WrapText(v interface{}) (ContentEnvelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return ContentEnvelope{}, fmt.Errorf("failed to serialize result: %w", err)
	}
	return ContentEnvelope{Content: []ContentItem{{Type: "text", Text: string(data)}}}, nil
}
