package service

import (
	"sync"

	"github.com/GoodPhotographer/goodphotographer/internal/model"
	"github.com/GoodPhotographer/goodphotographer/internal/progress"
)

// Reporter holds the observable state of one run: its lifecycle state and
// the cumulative progress snapshot. Every progress change is published to the
// bus. Once the run is terminal, late progress from the worker is dropped.
type Reporter struct {
	mx        sync.Mutex
	exportDir string
	state     model.State
	snapshot  model.ProgressEvent
	bus       *progress.Bus
}

// NewReporter returns an idle Reporter for a run of total photos. bus may be nil.
func NewReporter(exportDir string, total int, bus *progress.Bus) *Reporter {
	return &Reporter{
		exportDir: exportDir,
		state:     model.StateIdle,
		snapshot:  model.ProgressEvent{Total: total, Errors: []string{}},
		bus:       bus,
	}
}

func (r *Reporter) ExportDir() string {
	return r.exportDir
}

func (r *Reporter) State() model.State {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.state
}

// Snapshot returns a deep copy of the latest progress.
func (r *Reporter) Snapshot() model.ProgressEvent {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.snapshot.Clone()
}

// Announce publishes the current snapshot, used for the initial
// {0, total} event before the worker prints anything.
func (r *Reporter) Announce() {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.publish()
}

func (r *Reporter) progress(ev model.ProgressEvent) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.state.Terminal() {
		return
	}
	r.snapshot = ev
	r.publish()
}

func (r *Reporter) setState(s model.State) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.state.Terminal() {
		return
	}
	r.state = s
}

// finish moves the run to a terminal state and returns the final snapshot.
// Progress arriving later is not part of the result.
func (r *Reporter) finish(s model.State) model.ProgressEvent {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.state = s
	return r.snapshot.Clone()
}

// publish requires r.mx
func (r *Reporter) publish() {
	if r.bus != nil {
		r.bus.Publish(r.snapshot)
	}
}
