package command_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamiazya/scopes/pkg/command"
	"github.com/kamiazya/scopes/pkg/runner"
	"github.com/kamiazya/scopes/pkg/scope"
)

type recordingLogger struct {
	infos  []string
	errors []string
}

func (l *recordingLogger) Info(msg string, kv ...interface{})  { l.infos = append(l.infos, msg) }
func (l *recordingLogger) Error(msg string, kv ...interface{}) { l.errors = append(l.errors, msg) }
func (l *recordingLogger) Debug(msg string, kv ...interface{}) {}

var _ runner.Logger = (*recordingLogger)(nil)

func TestMiddlewareChain(t *testing.T) {
	logger := &recordingLogger{}
	e := newEnv(t, command.DefaultConfig(),
		command.WithMiddleware(
			command.RecoveryMiddleware(logger),
			command.LoggingMiddleware(logger),
			command.TracingMiddleware(""),
		))

	result, err := e.pipeline.Execute(context.Background(), scope.CreateScope{Title: mustTitle(t, "Tasks")})
	require.NoError(t, err)
	assert.NotEmpty(t, result.AggregateID)
	assert.Contains(t, logger.infos, "command executed")

	_, err = e.pipeline.Execute(context.Background(), scope.CreateScope{Title: mustTitle(t, "Tasks")})
	require.Error(t, err)
	assert.Contains(t, logger.errors, "command failed")
}
