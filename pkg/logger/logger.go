package logger

// Backend is a logging sink. Messages carry alternating key/value context.
type Backend interface {
	Log(message string, keyvals ...any)
	Debug(message string, keyvals ...any)
	Info(message string, keyvals ...any)
	Warn(message string, keyvals ...any)
	Error(message string, keyvals ...any)
	Fatal(message string, keyvals ...any)
}

// LoggerInstance is the historical name of Backend, kept for callers that
// implement their own sink.
type LoggerInstance = Backend

var backends []Backend

// Init installs the global backends. Logging before Init is a no-op, so
// library code can log unconditionally.
func Init(instances ...Backend) {
	backends = instances
}

func each(fn func(Backend)) {
	for _, b := range backends {
		fn(b)
	}
}

// Log writes at the default level.
func Log(message string, keyvals ...any) {
	each(func(b Backend) { b.Log(message, keyvals...) })
}

// Debug writes at DEBUG level.
func Debug(message string, keyvals ...any) {
	each(func(b Backend) { b.Debug(message, keyvals...) })
}

// Info writes at INFO level.
func Info(message string, keyvals ...any) {
	each(func(b Backend) { b.Info(message, keyvals...) })
}

// Warn writes at WARN level.
func Warn(message string, keyvals ...any) {
	each(func(b Backend) { b.Warn(message, keyvals...) })
}

// Error writes at ERROR level.
func Error(message string, keyvals ...any) {
	each(func(b Backend) { b.Error(message, keyvals...) })
}

// Fatal writes at FATAL level and terminates the program.
func Fatal(message string, keyvals ...any) {
	each(func(b Backend) { b.Fatal(message, keyvals...) })
}
