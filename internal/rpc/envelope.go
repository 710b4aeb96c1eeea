package rpc

import (
	stdjson "encoding/json"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/sackio/unibrowse-sub002/api/schemas"
)

// Request is the outbound half of the wire envelope.
type Request struct {
	ID      string              `json:"id"`
	Type    schemas.MessageType `json:"type"`
	Payload stdjson.RawMessage  `json:"payload,omitempty"`
}

// Response is the envelope of every reply. Its Type is always messageResponse.
type Response struct {
	Type    schemas.MessageType `json:"type"`
	Payload ResponsePayload     `json:"payload"`
}

// ResponsePayload carries either Result or Error for one RequestID.
type ResponsePayload struct {
	RequestID string             `json:"requestId"`
	Result    stdjson.RawMessage `json:"result,omitempty"`
	Error     stdjson.RawMessage `json:"error,omitempty"`
}

// frame is the shape every inbound message is first decoded into, before we
// know whether it is a request or a response.
type frame struct {
	ID      string              `json:"id"`
	Type    schemas.MessageType `json:"type"`
	Payload stdjson.RawMessage  `json:"payload"`
}

func newResponse(requestID string, result stdjson.RawMessage, errMsg string) Response {
	resp := Response{
		Type:    schemas.MsgResponse,
		Payload: ResponsePayload{RequestID: requestID, Result: result},
	}
	if errMsg != "" {
		resp.Payload.Error, _ = json.Marshal(errMsg)
		resp.Payload.Result = nil
	}
	return resp
}

// hasError reports whether the payload carries a non-null error.
func (p ResponsePayload) hasError() bool {
	e := strings.TrimSpace(string(p.Error))
	return e != "" && e != "null"
}

// errorMessage renders the far side's error. Strings pass through verbatim;
// objects with a "message" field yield that field; anything else is the raw JSON.
func (p ResponsePayload) errorMessage() string {
	var s string
	if err := json.Unmarshal(p.Error, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(p.Error, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(p.Error)
}
