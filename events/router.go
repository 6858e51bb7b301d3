package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Event is one inbound game event: the wire frame's type tag, the raw frame
// for the handler to decode, and the sender identity attached by the
// coordinator.
type Event struct {
	Type     string
	PlayerID string
	Raw      json.RawMessage
}

// Handler services one validated event. Handlers are bound to a coordinator
// instance at registration time via closure.
type Handler func(ev Event) error

type Status string

const (
	StatusOK             Status = "ok"
	StatusUnknownType    Status = "unknown_type"
	StatusInvalidPayload Status = "invalid_payload"
	StatusHandlerError   Status = "handler_error"
)

// Result is Run's tagged outcome. Run never panics; every failure mode maps
// to a status here.
type Result struct {
	Status Status
	Err    error
}

type route struct {
	schema  Schema
	handler Handler
}

// Router is a declarative type → (schema, handler) registry.
type Router struct {
	mu     sync.RWMutex
	routes map[string]route
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		routes: make(map[string]route),
		logger: logger,
	}
}

// Register binds one handler to an event type. Re-registration overwrites.
func (r *Router) Register(eventType string, schema Schema, h Handler) {
	r.mu.Lock()
	r.routes[eventType] = route{schema: schema, handler: h}
	r.mu.Unlock()
}

// Run looks the event up by type, validates the payload against the
// registered schema and invokes the handler. It returns once the handler
// call has been issued; any reply the handler triggers completes
// independently.
func (r *Router) Run(ev Event) Result {
	r.mu.RLock()
	rt, ok := r.routes[ev.Type]
	r.mu.RUnlock()

	if !ok {
		return Result{Status: StatusUnknownType, Err: fmt.Errorf("unknown event type %q", ev.Type)}
	}
	if err := rt.schema.Validate(ev.Raw); err != nil {
		return Result{Status: StatusInvalidPayload, Err: err}
	}

	err := r.invoke(rt.handler, ev)
	if err != nil {
		return Result{Status: StatusHandlerError, Err: err}
	}
	return Result{Status: StatusOK}
}

func (r *Router) invoke(h Handler, ev Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("event handler panicked",
				zap.String("type", ev.Type),
				zap.Any("panic", rec))
			err = fmt.Errorf("handler for %q panicked", ev.Type)
		}
	}()
	return h(ev)
}
