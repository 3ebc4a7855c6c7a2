package postgresadapter

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SystemClock and UUIDGenerator are the production Clock and IDGenerator.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

type UUIDGenerator struct{}

func (UUIDGenerator) NewID(_ context.Context) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
