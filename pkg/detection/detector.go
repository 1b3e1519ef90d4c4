package detection

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/object-detector/pkg/client"
	"github.com/menta2k/object-detector/pkg/types"
)

// EngineError is a failure reported by the detection engine for an otherwise
// well-formed frame
type EngineError struct {
	Message string
	cause   error
}

func (e *EngineError) Error() string {
	return e.Message
}

func (e *EngineError) Unwrap() error {
	return e.cause
}

// ErrDetectorClosed is returned by Detect after Close
var ErrDetectorClosed = &EngineError{Message: "detector closed"}

func asEngineError(err error) error {
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	return &EngineError{Message: err.Error(), cause: err}
}

// ValidRotation reports whether degrees is one of 0, 90, 180 or 270
func ValidRotation(degrees int) bool {
	switch degrees {
	case 0, 90, 180, 270:
		return true
	}
	return false
}

// Detector owns a single engine handle and turns each engine completion into
// one return value
type Detector struct {
	mu     sync.RWMutex
	engine client.Engine
	log    *logrus.Entry
}

// Option configures a Detector
type Option func(*Detector)

// WithLogger sets the log entry used for request logging
func WithLogger(log *logrus.Entry) Option {
	return func(d *Detector) {
		d.log = log
	}
}

// NewDetector creates a detector around an open engine handle
func NewDetector(engine client.Engine, opts ...Option) *Detector {
	d := &Detector{
		engine: engine,
		log:    logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect submits one frame and waits for the engine's completion. There is no
// timeout here; ctx is only passed on to the engine.
func (d *Detector) Detect(ctx context.Context, frame types.AssembledFrame) ([]types.DetectionResult, error) {
	if !ValidRotation(frame.Rotation) {
		return nil, errors.Errorf("rotation must be 0, 90, 180 or 270, got %d", frame.Rotation)
	}

	req := newRequest(d.log.WithFields(logrus.Fields{
		"width":    frame.Width,
		"height":   frame.Height,
		"rotation": frame.Rotation,
		"bytes":    len(frame.Data),
	}))

	if err := d.submit(ctx, frame, req); err != nil {
		return nil, err
	}

	results, err := req.wait()
	if err != nil {
		req.log.WithError(err).Error("object detection failed")
		return nil, err
	}
	req.log.Debugf("found %d objects", len(results))
	return results, nil
}

func (d *Detector) submit(ctx context.Context, frame types.AssembledFrame, req *request) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.engine == nil {
		return ErrDetectorClosed
	}
	if err := req.submit(); err != nil {
		return errors.Wrap(err, "submit")
	}
	d.engine.Process(ctx, frame, req.complete)
	return nil
}

// Closed reports whether Close has been called
func (d *Detector) Closed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.engine == nil
}

// Close releases the engine handle. Later calls are no-ops.
func (d *Detector) Close() error {
	d.mu.Lock()
	engine := d.engine
	d.engine = nil
	d.mu.Unlock()

	if engine == nil {
		return nil
	}
	return errors.Wrap(engine.Close(), "close engine")
}
