package application

import "log/slog"

const ModuleName = "deal-governance/invitation-service"

func ResolveLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
