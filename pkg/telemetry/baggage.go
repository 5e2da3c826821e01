package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/baggage"
)

const baggageRequestID = "request_id"

// ContextWithRequestID puts id into the context baggage so every span started
// below it is tagged with it.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	member, err := baggage.NewMember(baggageRequestID, id)
	if err != nil {
		return ctx
	}
	bag, err := baggage.FromContext(ctx).SetMember(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

func RequestIDFromBaggage(ctx context.Context) string {
	return baggage.FromContext(ctx).Member(baggageRequestID).Value()
}
