package events

import (
	"github.com/stemsplit/api/internal/model"
)

// Notifier receives job lifecycle changes after they are committed to the
// registry. Implementations must not block the pipeline.
type Notifier interface {
	Progress(job *model.Job, step string)
	Completed(job *model.Job)
	Failed(job *model.Job, kind string)
}

// Nop discards every notification
type Nop struct{}

func (Nop) Progress(*model.Job, string) {}
func (Nop) Completed(*model.Job)        {}
func (Nop) Failed(*model.Job, string)   {}

// Multi fans notifications out to several notifiers in order
type Multi []Notifier

func (m Multi) Progress(job *model.Job, step string) {
	for _, n := range m {
		n.Progress(job, step)
	}
}

func (m Multi) Completed(job *model.Job) {
	for _, n := range m {
		n.Completed(job)
	}
}

func (m Multi) Failed(job *model.Job, kind string) {
	for _, n := range m {
		n.Failed(job, kind)
	}
}
