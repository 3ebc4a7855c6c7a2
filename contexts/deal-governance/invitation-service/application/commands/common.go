package commands

import (
	"context"
	"errors"
	"log/slog"

	application "escrowline/contexts/deal-governance/invitation-service/application"
	"escrowline/contexts/deal-governance/invitation-service/ports"
	"escrowline/internal/shared/faults"
)

// normalize classifies err and logs internal failures with their cause.
// Whatever reaches the caller has a safe, non-empty message.
func normalize(logger *slog.Logger, event string, err error) error {
	classified := faults.Normalize(err)
	if classified.Kind == faults.KindInternal {
		cause := errors.Unwrap(classified)
		detail := "unknown"
		if cause != nil {
			detail = cause.Error()
		}
		logger.Error("invitation operation failed",
			"event", event,
			"module", application.ModuleName,
			"layer", "application",
			"error", detail,
		)
	}
	return classified
}

func newIDs(ctx context.Context, generator ports.IDGenerator, n int) ([]string, error) {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := generator.NewID(ctx)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
