package contract

import (
	"context"
	"reflect"

	"chat-core/domain/event"
)

// EventSink is one delivery endpoint for outbound events, typically a
// single device connection. Consume must not block indefinitely: slow
// consumers are expected to buffer or drop, never to stall a fan-out.
type EventSink interface {
	Consume(ctx context.Context, e event.Event) error
}

// Worker doesn't protect itself.
// Can be silly, focused. The supervisor owns restarts.
type Worker interface {
	Run(ctx context.Context) error
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// Used for logging and supervision during lifecycle events, avoiding
// manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
