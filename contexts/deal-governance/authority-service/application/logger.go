package application

import "log/slog"

// ModuleName is the "module" key on every log line this service writes.
const ModuleName = "deal-governance/authority-service"

// ResolveLogger falls back to the process logger.
func ResolveLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
