package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"inzikt/internal/types"
)

// Broker carries job rows from the writer to every process that serves push
// subscribers. Publish is called after each mutating write; Run delivers
// received rows into the local hub until ctx ends.
type Broker interface {
	Publish(ctx context.Context, job *types.AdhocJob) error
	Run(ctx context.Context) error
}

// MemoryBroker delivers straight into the hub. It only reaches subscribers
// in the same process.
type MemoryBroker struct {
	hub *Hub
}

func NewMemoryBroker(hub *Hub) *MemoryBroker {
	return &MemoryBroker{hub: hub}
}

func (b *MemoryBroker) Publish(_ context.Context, job *types.AdhocJob) error {
	b.hub.Deliver(*job)
	return nil
}

func (b *MemoryBroker) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// encodeJob serializes the row for the wire. Parameters are dropped to keep
// the payload under the Postgres NOTIFY limit; subscribers never read them.
func encodeJob(job *types.AdhocJob) ([]byte, error) {
	cp := *job
	cp.Parameters = nil
	b, err := json.Marshal(&cp)
	if err != nil {
		return nil, fmt.Errorf("progress: encode job %s: %w", job.ID, err)
	}
	return b, nil
}

func decodeJob(payload []byte) (types.AdhocJob, error) {
	var job types.AdhocJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return job, fmt.Errorf("progress: decode job: %w", err)
	}
	if job.ID == "" {
		return job, fmt.Errorf("progress: payload has no job id")
	}
	return job, nil
}
