package command

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kamiazya/scopes/pkg/runner"
)

// Handler executes one command.
type Handler func(ctx context.Context, cmd Command) (*Result, error)

// Middleware wraps command execution. Middleware added first runs
// outermost.
type Middleware func(Handler) Handler

// LoggingMiddleware logs command execution with timing.
func LoggingMiddleware(logger runner.Logger) Middleware {
	if logger == nil {
		logger = runner.NewNoopLogger()
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, cmd Command) (*Result, error) {
			start := time.Now()
			cmdType := commandType(cmd)

			logger.Debug("executing command", "command_type", cmdType)

			result, err := next(ctx, cmd)
			duration := time.Since(start)

			if err != nil {
				logger.Error("command failed",
					"command_type", cmdType,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return nil, err
			}

			logger.Info("command executed",
				"command_type", cmdType,
				"aggregate_id", result.AggregateID,
				"version", result.Version,
				"events", len(result.Events),
				"duration_ms", duration.Milliseconds())
			return result, nil
		}
	}
}

// RecoveryMiddleware converts handler panics into errors.
func RecoveryMiddleware(logger runner.Logger) Middleware {
	if logger == nil {
		logger = runner.NewNoopLogger()
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, cmd Command) (result *Result, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("command handler panicked",
						"command_type", commandType(cmd),
						"panic", r,
						"stack_trace", string(debug.Stack()))
					result = nil
					err = fmt.Errorf("command handler panicked: %v", r)
				}
			}()
			return next(ctx, cmd)
		}
	}
}

// TracingMiddleware adds an OpenTelemetry span around command execution.
func TracingMiddleware(tracerName string) Middleware {
	if tracerName == "" {
		tracerName = "github.com/kamiazya/scopes"
	}
	tracer := otel.Tracer(tracerName)

	return func(next Handler) Handler {
		return func(ctx context.Context, cmd Command) (*Result, error) {
			cmdType := commandType(cmd)

			spanCtx, span := tracer.Start(ctx, fmt.Sprintf("command.%s", cmdType),
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(attribute.String("command.type", cmdType)),
			)
			defer span.End()

			result, err := next(spanCtx, cmd)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}

			span.SetAttributes(
				attribute.String("aggregate.id", result.AggregateID),
				attribute.Int("events.count", len(result.Events)),
			)
			span.SetStatus(codes.Ok, "")
			return result, nil
		}
	}
}
