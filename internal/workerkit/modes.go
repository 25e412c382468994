package workerkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Modes lists the built-in handlers.
var Modes = []string{"echo", "upper", "sleep", "fail"}

// HandlerFor returns a built-in handler. sleep waits delay and then echoes.
func HandlerFor(mode string, delay time.Duration) (Handler, error) {
	switch mode {
	case "echo":
		return func(_ context.Context, payload string) (string, error) {
			return payload, nil
		}, nil
	case "upper":
		return func(_ context.Context, payload string) (string, error) {
			return strings.ToUpper(payload), nil
		}, nil
	case "sleep":
		return func(ctx context.Context, payload string) (string, error) {
			select {
			case <-time.After(delay):
				return payload, nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}, nil
	case "fail":
		return func(context.Context, string) (string, error) {
			return "", errors.New("simulated failure")
		}, nil
	default:
		return nil, fmt.Errorf("unknown mode %q (want one of %s)", mode, strings.Join(Modes, ", "))
	}
}
