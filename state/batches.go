package state

import (
	"slices"

	"github.com/abhirockzz/livestock-chat-assistant/api"
)

type Batches struct {
	Items  []api.Batch
	Status Status
	Error  string
}

// Batch actions.
type (
	BatchesRequested struct{}
	BatchesLoaded    struct{ Items []api.Batch }
	BatchesFailed    struct{ Error string }
)

func (BatchesRequested) action() {}
func (BatchesLoaded) action()    {}
func (BatchesFailed) action()    {}

const msgBatchesFailed = "Failed to fetch batches"

func ReduceBatches(s Batches, a Action) Batches {
	switch a := a.(type) {
	case BatchesRequested:
		s.Status = StatusLoading
		s.Error = ""
	case BatchesLoaded:
		s.Status = StatusSucceeded
		s.Items = slices.Clone(a.Items)
	case BatchesFailed:
		s.Status = StatusFailed
		s.Error = a.Error
		if s.Error == "" {
			s.Error = msgBatchesFailed
		}
	}
	return s
}
