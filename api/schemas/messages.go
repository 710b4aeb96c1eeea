package schemas

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MessageType names a request kind carried in the wire envelope's "type" field.
type MessageType string

const (
	MsgStoreMacro         MessageType = "browser_store_macro"
	MsgListMacros         MessageType = "browser_list_macros"
	MsgExecuteMacro       MessageType = "browser_execute_macro"
	MsgGetInteractions    MessageType = "browser_get_interactions"
	MsgPruneInteractions  MessageType = "browser_prune_interactions"
	MsgSearchInteractions MessageType = "browser_search_interactions"

	// MsgRecordInteraction is pushed by the browser extension for every observed event.
	MsgRecordInteraction MessageType = "browser_record_interaction"
	// MsgRunMacro is sent to the browser extension to run a macro's code.
	MsgRunMacro MessageType = "browser_run_macro"

	// MsgResponse is the envelope type of every reply.
	MsgResponse MessageType = "messageResponse"
)

// Message is the tagged union over every request kind. Each variant carries
// its own payload type; DecodeMessage is the only constructor from the wire.
type Message interface {
	Kind() MessageType
}

// StoreMacroMessage is the payload of browser_store_macro.
type StoreMacroMessage struct {
	Site        string      `json:"site"`
	Category    string      `json:"category"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []ParamSpec `json:"parameters"`
	Code        string      `json:"code"`
	ReturnType  string      `json:"returnType"`
	Tags        []string    `json:"tags"`
}

func (StoreMacroMessage) Kind() MessageType { return MsgStoreMacro }

// Macro converts the payload into an unsaved Macro.
func (m StoreMacroMessage) Macro() Macro {
	return Macro{
		Site:        m.Site,
		Category:    m.Category,
		Name:        m.Name,
		Description: m.Description,
		Parameters:  m.Parameters,
		Code:        m.Code,
		ReturnType:  m.ReturnType,
		Tags:        m.Tags,
	}
}

// ListMacrosMessage is the payload of browser_list_macros.
type ListMacrosMessage struct {
	MacroFilter
}

func (ListMacrosMessage) Kind() MessageType { return MsgListMacros }

// ExecuteMacroMessage is the payload of browser_execute_macro.
type ExecuteMacroMessage struct {
	ID     string                 `json:"id"`
	Params map[string]interface{} `json:"params"`
}

func (ExecuteMacroMessage) Kind() MessageType { return MsgExecuteMacro }

// GetInteractionsMessage is the payload of browser_get_interactions.
type GetInteractionsMessage struct {
	InteractionFilter
}

func (GetInteractionsMessage) Kind() MessageType { return MsgGetInteractions }

// SearchInteractionsMessage is the payload of browser_search_interactions.
type SearchInteractionsMessage struct {
	Query string `json:"query"`
	InteractionFilter
}

func (SearchInteractionsMessage) Kind() MessageType { return MsgSearchInteractions }

// PruneInteractionsMessage is the payload of browser_prune_interactions.
type PruneInteractionsMessage struct {
	PruneCriteria
}

func (PruneInteractionsMessage) Kind() MessageType { return MsgPruneInteractions }

// RecordInteractionMessage is the payload of browser_record_interaction.
type RecordInteractionMessage struct {
	InteractionEvent
}

func (RecordInteractionMessage) Kind() MessageType { return MsgRecordInteraction }

// RunMacroMessage is the payload of browser_run_macro.
type RunMacroMessage struct {
	MacroRun
}

func (RunMacroMessage) Kind() MessageType { return MsgRunMacro }

// DecodeMessage turns a wire (type, payload) pair into its typed variant.
// An unknown type or a payload that does not match the variant's shape is a
// validation error.
func DecodeMessage(msgType MessageType, payload json.RawMessage) (Message, error) {
	raw := bytes.TrimSpace(payload)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}

	var msg Message
	var err error
	switch msgType {
	case MsgStoreMacro:
		var m StoreMacroMessage
		err = json.Unmarshal(raw, &m)
		msg = m
	case MsgListMacros:
		var m ListMacrosMessage
		err = json.Unmarshal(raw, &m)
		msg = m
	case MsgExecuteMacro:
		var m ExecuteMacroMessage
		err = json.Unmarshal(raw, &m)
		msg = m
	case MsgGetInteractions:
		var m GetInteractionsMessage
		err = json.Unmarshal(raw, &m)
		msg = m
	case MsgSearchInteractions:
		var m SearchInteractionsMessage
		err = json.Unmarshal(raw, &m)
		msg = m
	case MsgPruneInteractions:
		var m PruneInteractionsMessage
		err = json.Unmarshal(raw, &m)
		msg = m
	case MsgRecordInteraction:
		var m RecordInteractionMessage
		err = json.Unmarshal(raw, &m)
		msg = m
	case MsgRunMacro:
		var m RunMacroMessage
		err = json.Unmarshal(raw, &m)
		msg = m
	default:
		return nil, NewValidationError("unknown message type: %q", msgType)
	}
	if err != nil {
		return nil, &Error{Code: CodeValidation, Message: fmt.Sprintf("malformed %s payload", msgType), Err: err}
	}
	return msg, nil
}
