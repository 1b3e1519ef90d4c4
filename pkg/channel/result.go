package channel

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// MethodCall is one inbound call on the channel
type MethodCall struct {
	Method    string
	Arguments any
}

// Result receives exactly one reply for a MethodCall
type Result interface {
	Success(result any)
	Error(code, message string, details any)
	NotImplemented()
}

// onceResult forwards the first delivered reply and drops the rest. A reply
// whose delivery panics does not count as delivered.
type onceResult struct {
	mu    sync.Mutex
	sent  bool
	inner Result
	log   *logrus.Entry
}

func guard(r Result, log *logrus.Entry) *onceResult {
	if or, ok := r.(*onceResult); ok {
		return or
	}
	return &onceResult{inner: r, log: log}
}

func (r *onceResult) reply(kind string, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sent {
		r.log.WithField("reply", kind).Warn("dropping second reply for the same call")
		return
	}
	fn()
	r.sent = true
}

func (r *onceResult) Success(result any) {
	r.reply("success", func() { r.inner.Success(result) })
}

func (r *onceResult) Error(code, message string, details any) {
	r.reply("error", func() { r.inner.Error(code, message, details) })
}

func (r *onceResult) NotImplemented() {
	r.reply("notImplemented", func() { r.inner.NotImplemented() })
}

// Reply is a recorded channel reply
type Reply struct {
	Value          any    `json:"value,omitempty"`
	Code           string `json:"code,omitempty"`
	Message        string `json:"message,omitempty"`
	Details        any    `json:"details,omitempty"`
	NotImplemented bool   `json:"notImplemented,omitempty"`
}

// IsError reports whether the reply is an error triple
func (r Reply) IsError() bool {
	return r.Code != ""
}

// Recorder is a Result that stores the reply and signals its arrival
type Recorder struct {
	mu    sync.Mutex
	reply Reply
	count int
	done  chan struct{}
}

// NewRecorder creates an empty Recorder
func NewRecorder() *Recorder {
	return &Recorder{done: make(chan struct{})}
}

func (r *Recorder) record(reply Reply) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	if r.count == 1 {
		r.reply = reply
		close(r.done)
	}
}

func (r *Recorder) Success(result any) {
	r.record(Reply{Value: result})
}

func (r *Recorder) Error(code, message string, details any) {
	r.record(Reply{Code: code, Message: message, Details: details})
}

func (r *Recorder) NotImplemented() {
	r.record(Reply{NotImplemented: true})
}

// Done is closed when the first reply arrives
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

// Reply returns the first recorded reply
func (r *Recorder) Reply() Reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reply
}

// Count returns how many replies were recorded
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Call invokes the plugin and blocks until its reply arrives or ctx ends
func Call(ctx context.Context, p *Plugin, call MethodCall) (Reply, error) {
	rec := NewRecorder()
	p.OnMethodCall(ctx, call, rec)
	select {
	case <-rec.Done():
		return rec.Reply(), nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}
