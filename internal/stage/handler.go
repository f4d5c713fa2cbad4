package stage

import (
	"context"

	"dubber/internal/queue"
)

// Handler describes the contract the pipeline runner needs from each stage.
type Handler interface {
	Prepare(context.Context, *queue.Job) error
	Execute(context.Context, *queue.Job) error
	HealthCheck(context.Context) Health
}
