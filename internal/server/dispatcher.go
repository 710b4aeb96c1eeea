package server

import (
	"context"
	stdjson "encoding/json"

	"github.com/sackio/unibrowse-sub002/api/schemas"
	"github.com/sackio/unibrowse-sub002/internal/interaction"
	"github.com/sackio/unibrowse-sub002/internal/macro"
	"github.com/sackio/unibrowse-sub002/internal/rpc"
	"go.uber.org/zap"
)

// MacroList is the result of browser_list_macros.
type MacroList struct {
	Macros []schemas.Macro `json:"macros"`
	Count  int             `json:"count"`
}

// Dispatcher routes inbound requests to the macro store and the
// interaction log. It implements rpc.Handler.
type Dispatcher struct {
	macros       *macro.Store
	interactions *interaction.Log
	logger       *zap.Logger
}

var _ rpc.Handler = (*Dispatcher)(nil)

func NewDispatcher(macros *macro.Store, interactions *interaction.Log, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		macros:       macros,
		interactions: interactions,
		logger:       logger.Named("dispatcher"),
	}
}

// HandleRequest decodes the payload into its message variant, runs it and
// wraps the result in a text content envelope.
func (d *Dispatcher) HandleRequest(ctx context.Context, msgType schemas.MessageType, payload stdjson.RawMessage) (interface{}, error) {
	msg, err := schemas.DecodeMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	result, err := d.Dispatch(ctx, msg)
	if err != nil {
		d.logger.Debug("Request failed.", zap.String("type", string(msgType)), zap.String("code", string(schemas.CodeOf(err))), zap.Error(err))
		return nil, err
	}
	return rpc.WrapText(result)
}

// Dispatch runs one decoded message and returns its unwrapped result.
func (d *Dispatcher) Dispatch(ctx context.Context, msg schemas.Message) (interface{}, error) {
	switch m := msg.(type) {
	case schemas.StoreMacroMessage:
		return d.macros.Store(ctx, m.Macro())
	case schemas.ListMacrosMessage:
		macros := d.macros.List(ctx, m.MacroFilter)
		return MacroList{Macros: macros, Count: len(macros)}, nil
	case schemas.ExecuteMacroMessage:
		if m.ID == "" {
			return nil, schemas.NewValidationError("macro id is required")
		}
		return d.macros.Execute(ctx, m.ID, m.Params)
	case schemas.GetInteractionsMessage:
		return d.interactions.Get(ctx, m.InteractionFilter)
	case schemas.SearchInteractionsMessage:
		return d.interactions.Search(ctx, m.Query, m.InteractionFilter)
	case schemas.PruneInteractionsMessage:
		return d.interactions.Prune(ctx, m.PruneCriteria)
	case schemas.RecordInteractionMessage:
		return d.interactions.Append(ctx, m.InteractionEvent)
	case schemas.RunMacroMessage:
		return nil, schemas.NewValidationError("%s is only served by the browser extension", m.Kind())
	default:
		return nil, schemas.NewValidationError("unsupported message type: %s", msg.Kind())
	}
}
