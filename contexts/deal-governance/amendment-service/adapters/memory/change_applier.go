package memory

import (
	"context"
	"sync"

	"escrowline/contexts/deal-governance/amendment-service/ports"
)

// RecordingApplier is a ChangeApplier for tests and local wiring. It keeps
// every request and can be told to fail.
type RecordingApplier struct {
	mu       sync.Mutex
	requests []ports.ChangeRequest
	fail     error
}

func NewRecordingApplier() *RecordingApplier {
	return &RecordingApplier{}
}

func (a *RecordingApplier) Apply(_ context.Context, request ports.ChangeRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return a.fail
	}
	a.requests = append(a.requests, request)
	return nil
}

func (a *RecordingApplier) FailWith(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail = err
}

func (a *RecordingApplier) Requests() []ports.ChangeRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ports.ChangeRequest(nil), a.requests...)
}

// Count reports how many times amendmentID was applied.
func (a *RecordingApplier) Count(amendmentID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	count := 0
	for _, request := range a.requests {
		if request.AmendmentID == amendmentID {
			count++
		}
	}
	return count
}
