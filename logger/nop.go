package logger

// nopLogger discards every record. Useful for tests that exercise noisy code
// paths without asserting on log output.
type nopLogger struct {
	level LogLevel
}

var _ Logger = (*nopLogger)(nil)

// NewNop returns a Logger that discards all messages.
func NewNop() Logger {
	return &nopLogger{level: InfoLevel}
}

func (n *nopLogger) Debug(msg string, keysAndValues ...any) {}
func (n *nopLogger) Info(msg string, keysAndValues ...any)  {}
func (n *nopLogger) Warn(msg string, keysAndValues ...any)  {}
func (n *nopLogger) Error(msg string, keysAndValues ...any) {}
func (n *nopLogger) Fatal(msg string, keysAndValues ...any) {}

func (n *nopLogger) With(keyValues ...any) Logger { return n }

func (n *nopLogger) Level() LogLevel { return n.level }

func (n *nopLogger) SetLevel(level LogLevel) { n.level = level }
