package ingress

import (
	"context"

	"github.com/lbds137/tzurot/internal/queue"
)

type busListener struct {
	bus *queue.ResultBus
}

// NewBusListener wraps the redis result bus as a ResultListener.
func NewBusListener(bus *queue.ResultBus) ResultListener {
	return busListener{bus: bus}
}

func (b busListener) Listen(ctx context.Context, jobID string) (ResultWaiter, error) {
	return b.bus.Listen(ctx, jobID)
}
