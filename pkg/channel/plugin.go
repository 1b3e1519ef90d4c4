// Package channel exposes the detector over a method-channel style call
// surface: a named method, an untyped argument map and a single reply that is
// either a success value or an error triple.
package channel

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/object-detector/pkg/client"
	"github.com/menta2k/object-detector/pkg/detection"
	"github.com/menta2k/object-detector/pkg/frame"
	"github.com/menta2k/object-detector/pkg/types"
)

// ChannelName is the channel hosts register the plugin under
const ChannelName = "com.example.my_object_detector/ml_kit"

// MethodDetect is the only supported method
const MethodDetect = "detect"

// Error codes sent in error replies
const (
	CodeInvalidArgument          = "INVALID_ARGUMENT"
	CodeInvalidImageData         = "INVALID_IMAGE_DATA"
	CodeInvalidPlaneBytes        = "INVALID_PLANE_BYTES"
	CodeMLKitError               = "MLKIT_ERROR"
	CodeDetectionError           = "DETECTION_ERROR"
	CodeHandleDetectionException = "HANDLE_DETECTION_EXCEPTION"
)

// ErrAlreadyAttached is returned by OnAttached when the plugin holds a detector
var ErrAlreadyAttached = errors.New("plugin already attached")

// Plugin dispatches channel calls to a detector it creates on attach and
// closes on detach
type Plugin struct {
	factory client.Factory
	options types.DetectorOptions
	log     *logrus.Entry

	mu       sync.Mutex
	detector *detection.Detector
}

// PluginOption configures a Plugin
type PluginOption func(*Plugin)

// WithDetectorOptions overrides the engine options used on attach
func WithDetectorOptions(opts types.DetectorOptions) PluginOption {
	return func(p *Plugin) {
		p.options = opts
	}
}

// WithLogger sets the log entry for the plugin and its detector
func WithLogger(log *logrus.Entry) PluginOption {
	return func(p *Plugin) {
		p.log = log
	}
}

// NewPlugin creates a detached plugin that builds engines with factory
func NewPlugin(factory client.Factory, opts ...PluginOption) *Plugin {
	p := &Plugin{
		factory: factory,
		options: types.DefaultDetectorOptions(),
		log:     logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnAttached creates the detector handle
func (p *Plugin) OnAttached() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.detector != nil {
		return ErrAlreadyAttached
	}
	engine, err := p.factory(p.options)
	if err != nil {
		return errors.Wrap(err, "create engine")
	}
	p.detector = detection.NewDetector(engine, detection.WithLogger(p.log))
	p.log.WithFields(logrus.Fields{
		"mode":             p.options.Mode,
		"classification":   p.options.Classification,
		"multiple_objects": p.options.MultipleObjects,
	}).Info("object detector initialized")
	return nil
}

// OnDetached closes the detector handle. Calls arriving afterwards fail with
// a closed-detector error.
func (p *Plugin) OnDetached() error {
	p.mu.Lock()
	d := p.detector
	p.detector = nil
	p.mu.Unlock()

	if d == nil {
		return nil
	}
	err := d.Close()
	p.log.Info("object detector closed and detached")
	return err
}

// WithAttached attaches, runs fn and detaches on every exit path, panics included
func (p *Plugin) WithAttached(fn func(*Plugin) error) (err error) {
	if err := p.OnAttached(); err != nil {
		return err
	}
	defer func() {
		r := recover()
		if derr := p.OnDetached(); derr != nil && err == nil {
			err = derr
		}
		if r != nil {
			panic(r)
		}
	}()
	return fn(p)
}

func (p *Plugin) currentDetector() *detection.Detector {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detector
}

// OnMethodCall handles one call. Validation and assembly happen inline, the
// detection reply arrives later from another goroutine. result receives
// exactly one reply.
func (p *Plugin) OnMethodCall(ctx context.Context, call MethodCall, result Result) {
	res := guard(result, p.log)
	if call.Method != MethodDetect {
		res.NotImplemented()
		return
	}

	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("panic", r).Error("error processing detect call")
			res.Error(CodeDetectionError, fmt.Sprintf("Exception in onMethodCall: %v", r), string(debug.Stack()))
		}
	}()

	args, ok := call.Arguments.(map[string]any)
	if !ok || args == nil {
		p.log.Errorf("image data is not a map: %T", call.Arguments)
		res.Error(CodeInvalidArgument, "Image data is null", nil)
		return
	}
	p.handleDetection(ctx, args, res)
}

func (p *Plugin) handleDetection(ctx context.Context, args map[string]any, res Result) {
	defer p.recoverInto(res)

	desc, err := frame.Validate(args)
	if err != nil {
		p.replyError(res, err)
		return
	}
	assembled, err := frame.Assemble(desc)
	if err != nil {
		p.replyError(res, err)
		return
	}
	p.log.WithFields(logrus.Fields{
		"width":    assembled.Width,
		"height":   assembled.Height,
		"rotation": assembled.Rotation,
		"y":        len(desc.Planes[0].Bytes),
		"u":        len(desc.Planes[1].Bytes),
		"v":        len(desc.Planes[2].Bytes),
	}).Debug("frame assembled")

	d := p.currentDetector()
	go func() {
		defer p.recoverInto(res)

		if d == nil {
			p.replyError(res, detection.ErrDetectorClosed)
			return
		}
		results, err := d.Detect(ctx, assembled)
		if err != nil {
			p.replyError(res, err)
			return
		}
		res.Success(EncodeResults(results))
	}()
}

func (p *Plugin) recoverInto(res Result) {
	if r := recover(); r != nil {
		p.log.WithField("panic", r).Error("exception in detection handling")
		res.Error(CodeHandleDetectionException, fmt.Sprintf("Exception: %v", r), string(debug.Stack()))
	}
}

func (p *Plugin) replyError(res Result, err error) {
	code, message, details := ErrorReply(err)
	p.log.WithError(err).WithField("code", code).Error("detect call failed")
	res.Error(code, message, details)
}

// ErrorReply maps an error to the channel's error triple
func ErrorReply(err error) (code, message string, details any) {
	switch {
	case errors.Is(err, frame.ErrInvalidImageData):
		return CodeInvalidImageData, "Image dimensions or plane maps are invalid.", nil
	case errors.Is(err, frame.ErrInvalidPlaneBytes):
		return CodeInvalidPlaneBytes, "Plane bytes are null.", nil
	}

	var ee *detection.EngineError
	if errors.As(err, &ee) {
		trace := error(ee)
		if cause := ee.Unwrap(); cause != nil {
			trace = cause
		}
		return CodeMLKitError, "Object detection failed: " + ee.Message, fmt.Sprintf("%+v", trace)
	}
	return CodeHandleDetectionException, "Exception: " + err.Error(), fmt.Sprintf("%+v", err)
}
