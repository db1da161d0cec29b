package workflow

import (
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// Register wires both workflows and the activity set onto a worker.
func Register(w worker.Worker, a *Activities) {
	w.RegisterWorkflow(DriftCheckWorkflow)
	w.RegisterWorkflow(RetrainWorkflow)
	w.RegisterActivity(a)
}

// NewWorker builds a worker on the driftwatch task queue.
func NewWorker(c client.Client, a *Activities) worker.Worker {
	w := worker.New(c, TaskQueue, worker.Options{})
	Register(w, a)
	return w
}
