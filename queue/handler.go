package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type (
	// Handler consumes task payloads. Name ties the handler to the
	// tasks it serves: a submitted payload is routed to the handler
	// whose name matches the task's handler name.
	Handler interface {
		Name() string
		Handle(ctx context.Context, payload json.RawMessage) error
	}

	// TaskHandlerFunc processes a decoded payload of type T
	TaskHandlerFunc[T any] func(ctx context.Context, payload T) error

	// RawHandlerFunc processes the payload bytes without decoding
	RawHandlerFunc func(ctx context.Context, payload json.RawMessage) error

	// PeriodicTaskHandlerFunc runs on a schedule and carries no payload
	PeriodicTaskHandlerFunc func(ctx context.Context) error
)

// NewTaskHandler wraps a typed function as a Handler. The handler name
// is derived from the payload type, so submitting a value of type T
// routes to the handler registered for T.
func NewTaskHandler[T any](handler TaskHandlerFunc[T]) Handler {
	var payload T
	return &typedHandler[T]{
		name:    payloadName(payload),
		handler: handler,
	}
}

// NewRawHandler wraps an untyped function as a Handler under an
// explicit name, for callers that manage their own payload encoding.
func NewRawHandler(name string, handler RawHandlerFunc) Handler {
	return &rawHandler{name: name, handler: handler}
}

// NewPeriodicTaskHandler wraps a payload-free function as a Handler.
// The scheduler submits tasks under the same name to trigger it.
func NewPeriodicTaskHandler(name string, handler PeriodicTaskHandlerFunc) Handler {
	return &rawHandler{
		name: name,
		handler: func(ctx context.Context, _ json.RawMessage) error {
			return handler(ctx)
		},
	}
}

type typedHandler[T any] struct {
	name    string
	handler TaskHandlerFunc[T]
}

func (h *typedHandler[T]) Name() string {
	return h.name
}

func (h *typedHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", h.name, err)
	}
	return h.handler(ctx, t)
}

type rawHandler struct {
	name    string
	handler RawHandlerFunc
}

func (h *rawHandler) Name() string {
	return h.name
}

func (h *rawHandler) Handle(ctx context.Context, payload json.RawMessage) error {
	return h.handler(ctx, payload)
}

// payloadName derives a stable handler name from a payload value,
// e.g. "email.SendWelcome" for email.SendWelcome and *email.SendWelcome.
func payloadName(v any) string {
	return strings.TrimLeft(fmt.Sprintf("%T", v), "*")
}
