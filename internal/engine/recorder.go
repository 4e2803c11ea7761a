package engine

import (
	"github.com/basketlabs/bvm/internal/types"
)

// Recorder receives every record the engine emits. Implementations persist
// them for external observers and indexers; recording is best-effort and
// never fails the emitting operation.
type Recorder interface {
	// Record persists one emitted record under the operation's trace ID.
	Record(eventType types.EventType, traceID string, payload any)

	// SaveReport persists a completed rebalance report.
	SaveReport(report types.RebalanceReport)
}

// NopRecorder discards all records.
type NopRecorder struct{}

func (NopRecorder) Record(types.EventType, string, any) {}
func (NopRecorder) SaveReport(types.RebalanceReport)    {}
