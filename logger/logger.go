package logger

// Logger is the structured logging surface used by the engine, the admin
// write path and the stores. Arguments after msg are alternating key/value
// pairs.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}
