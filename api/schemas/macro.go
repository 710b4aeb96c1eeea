package schemas

import (
	"encoding/json"
	"time"
)

// -- Macro Schemas --

// ParamType is the declared type tag of a macro parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamInteger ParamType = "integer"
	ParamBoolean ParamType = "boolean"
	ParamObject  ParamType = "object"
	ParamArray   ParamType = "array"
	ParamAny     ParamType = "any"
)

// ParamSpec declares one parameter a macro accepts.
type ParamSpec struct {
	Name        string          `json:"name"`
	Type        ParamType       `json:"type,omitempty"`
	Required    bool            `json:"required,omitempty"`
	Default     json.RawMessage `json:"default,omitempty"`
	Description string          `json:"description,omitempty"`
}

// HasDefault reports whether the spec carries a usable default value.
func (p ParamSpec) HasDefault() bool {
	return len(p.Default) > 0 && string(p.Default) != "null"
}

// Macro is a named, reusable browser-action recipe keyed by (Site, Name).
// Code is opaque to the store; only the browser-side collaborator interprets it.
type Macro struct {
	ID           string      `json:"id"`
	Site         string      `json:"site"`
	Category     string      `json:"category"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Parameters   []ParamSpec `json:"parameters"`
	Code         string      `json:"code"`
	ReturnType   string      `json:"returnType"`
	Reliability  float64     `json:"reliability"`
	Tags         []string    `json:"tags"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	SuccessCount int64       `json:"successCount"`
	FailureCount int64       `json:"failureCount"`
}

// Clone returns a deep copy so callers never share slices with the store.
func (m Macro) Clone() Macro {
	out := m
	if m.Parameters != nil {
		out.Parameters = make([]ParamSpec, len(m.Parameters))
		copy(out.Parameters, m.Parameters)
	}
	if m.Tags != nil {
		out.Tags = make([]string, len(m.Tags))
		copy(out.Tags, m.Tags)
	}
	return out
}

// StoreOutcome tells callers which branch of the upsert ran.
type StoreOutcome string

const (
	OutcomeCreated StoreOutcome = "created"
	OutcomeUpdated StoreOutcome = "updated"
)

// StoreMacroResult is returned from a store call.
type StoreMacroResult struct {
	ID      string       `json:"id"`
	Outcome StoreOutcome `json:"outcome"`
	Message string       `json:"message"`
}

// MacroFilter narrows a list call. An empty Search returns every macro.
type MacroFilter struct {
	Search string `json:"search,omitempty"`
}

// ExecuteMacroResult is returned from a successful execute call.
type ExecuteMacroResult struct {
	MacroID      string          `json:"macroId"`
	Result       json.RawMessage `json:"result,omitempty"`
	Warnings     []string        `json:"warnings,omitempty"`
	SuccessCount int64           `json:"successCount"`
	FailureCount int64           `json:"failureCount"`
	Reliability  float64         `json:"reliability"`
}

// MacroRun is what a browser-side collaborator receives to run a macro.
type MacroRun struct {
	MacroID    string                 `json:"macroId"`
	Site       string                 `json:"site"`
	Name       string                 `json:"name"`
	Code       string                 `json:"code"`
	Params     map[string]interface{} `json:"params"`
	ReturnType string                 `json:"returnType,omitempty"`
}
