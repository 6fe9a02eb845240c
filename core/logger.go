package core

// Logger is any leveled logger that can report errors to an external
// monitoring service. Extra args may carry an error, a context map or the
// acting user depending on the implementation.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
