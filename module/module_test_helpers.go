package module

import (
	"testing"

	"github.com/CrisisTextLine/modular"
)

// CreateIsolatedApp creates an isolated application for tests
func CreateIsolatedApp(t *testing.T) modular.Application {
	t.Helper()
	return createAppWithLogger(t, &testLogger{})
}

// CreateAppWithLogger creates an application wired to the given logger so
// tests can assert on emitted messages.
func CreateAppWithLogger(t *testing.T, logger modular.Logger) modular.Application {
	t.Helper()
	return createAppWithLogger(t, logger)
}

func createAppWithLogger(t *testing.T, logger modular.Logger) modular.Application {
	t.Helper()

	app := modular.NewStdApplication(modular.NewStdConfigProvider(nil), logger)
	if err := app.Init(); err != nil {
		t.Fatalf("Failed to initialize test app: %v", err)
	}
	return app
}

// Simple test logger implementation to avoid importing from mock
type testLogger struct {
	entries []string
}

func (l *testLogger) Debug(msg string, args ...interface{}) {}
func (l *testLogger) Info(msg string, args ...interface{})  {}
func (l *testLogger) Warn(msg string, args ...interface{})  {}
func (l *testLogger) Error(msg string, args ...interface{}) {}
