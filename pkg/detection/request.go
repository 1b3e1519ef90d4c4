package detection

import (
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/object-detector/pkg/types"
)

// Request lifecycle states
const (
	StateIdle      = "idle"
	StateSubmitted = "submitted"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

const (
	eventSubmit  = "submit"
	eventSucceed = "succeed"
	eventFail    = "fail"
)

type outcome struct {
	results []types.DetectionResult
	err     error
}

// request tracks one frame from submission to its single completion
type request struct {
	id   string
	fsm  *fsm.FSM
	done chan outcome
	log  *logrus.Entry
}

func newRequest(log *logrus.Entry) *request {
	r := &request{
		id:   uuid.NewString(),
		done: make(chan outcome, 1),
	}
	r.log = log.WithField("request_id", r.id)
	r.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventSubmit, Src: []string{StateIdle}, Dst: StateSubmitted},
			{Name: eventSucceed, Src: []string{StateSubmitted}, Dst: StateSucceeded},
			{Name: eventFail, Src: []string{StateSubmitted}, Dst: StateFailed},
		},
		fsm.Callbacks{
			"after_event": func(e *fsm.Event) {
				r.log.Debugf("[%s -> %s] %s", e.Src, e.Dst, e.Event)
			},
		},
	)
	return r
}

func (r *request) submit() error {
	return r.fsm.Event(eventSubmit)
}

// complete is handed to the engine. Only the first call reaches the waiter.
func (r *request) complete(results []types.DetectionResult, err error) {
	event, out := eventSucceed, outcome{results: results}
	if err != nil {
		event, out = eventFail, outcome{err: asEngineError(err)}
	} else if out.results == nil {
		out.results = []types.DetectionResult{}
	}

	if ferr := r.fsm.Event(event); ferr != nil {
		r.log.WithError(ferr).Warn("dropping repeated engine completion")
		return
	}
	r.done <- out
}

func (r *request) wait() ([]types.DetectionResult, error) {
	out := <-r.done
	return out.results, out.err
}

func (r *request) state() string {
	return r.fsm.Current()
}
