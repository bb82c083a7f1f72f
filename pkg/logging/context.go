package logging

import "context"

type contextKey int

const (
	participantKey contextKey = iota
	timeWindowKey
	iterationKey
)

// WithParticipant attaches a participant name to ctx for log entries
// produced downstream.
func WithParticipant(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, participantKey, name)
}

// GetParticipant retrieves the participant name attached by WithParticipant.
func GetParticipant(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(participantKey).(string)
	return v, ok
}

// WithTimeWindow attaches the current time window index to ctx.
func WithTimeWindow(ctx context.Context, window int) context.Context {
	return context.WithValue(ctx, timeWindowKey, window)
}

// GetTimeWindow retrieves the time window index attached by WithTimeWindow.
func GetTimeWindow(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(timeWindowKey).(int)
	return v, ok
}

// WithIteration attaches the current implicit-coupling iteration to ctx.
func WithIteration(ctx context.Context, iteration int) context.Context {
	return context.WithValue(ctx, iterationKey, iteration)
}

// GetIteration retrieves the iteration attached by WithIteration.
func GetIteration(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(iterationKey).(int)
	return v, ok
}
