// Package objectdetector detects objects in camera frames sent as three
// YUV 4:2:0 planes.
//
// A host passes each frame through a method-channel style call. The request
// map is validated, its planes are concatenated into one buffer and the buffer
// is handed to a long-lived engine handle that answers asynchronously:
//
//	od, err := objectdetector.New(objectdetector.Options{Backend: objectdetector.BackendLocal})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer od.Close()
//
//	reply, err := od.Call(ctx, channel.MethodCall{
//		Method:    channel.MethodDetect,
//		Arguments: channel.DetectArguments(640, 480, 90, planes),
//	})
//
// The package consists of these components:
//
// 1. Frame (pkg/frame): request validation and plane assembly
// 2. Detection (pkg/detection): the dispatcher that owns the engine handle
// 3. Channel (pkg/channel): method dispatch, error codes and attach/detach
// 4. Engines (pkg/ollama, pkg/llamacpp, pkg/vision): inference backends
//
// Engines never see the request map. They receive an AssembledFrame and
// report detections in the coordinates of the upright (rotated) frame.
package objectdetector

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/object-detector/pkg/channel"
	"github.com/menta2k/object-detector/pkg/client"
	"github.com/menta2k/object-detector/pkg/llamacpp"
	"github.com/menta2k/object-detector/pkg/ollama"
	"github.com/menta2k/object-detector/pkg/processing"
	"github.com/menta2k/object-detector/pkg/types"
	"github.com/menta2k/object-detector/pkg/vision"
)

// Version of the object detector library
const Version = "1.0.0"

// Backend names
const (
	BackendLocal    = "local"
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
)

// Options selects the engine backend and how frames are sent to it
type Options struct {
	Backend     string
	URL         string
	Model       string
	SendFormat  string
	SendSize    int
	SendQuality int
	Timeout     time.Duration
	Vision      vision.DetectionConfig
	Detector    types.DetectorOptions
	Logger      *logrus.Entry
}

// NewEngineFactory returns a factory that builds the configured backend
func NewEngineFactory(o Options) (client.Factory, error) {
	switch o.Backend {
	case BackendLocal, "":
		return func(opts types.DetectorOptions) (client.Engine, error) {
			return client.NewAsync(vision.NewWithConfig(o.Vision, opts)), nil
		}, nil
	case BackendOllama:
		if o.URL == "" {
			o.URL = "http://localhost:11434"
		}
		return func(opts types.DetectorOptions) (client.Engine, error) {
			c, err := ollama.NewClient(ollama.Config{
				URL: o.URL, Model: o.Model, SendFormat: o.SendFormat,
				SendSize: o.SendSize, SendQuality: o.SendQuality, Timeout: o.Timeout,
			}, opts)
			if err != nil {
				return nil, err
			}
			return client.NewAsync(c), nil
		}, nil
	case BackendLlamaCpp:
		return func(opts types.DetectorOptions) (client.Engine, error) {
			c, err := llamacpp.NewClient(llamacpp.Config{
				URL: o.URL, Model: o.Model, SendFormat: o.SendFormat,
				SendSize: o.SendSize, SendQuality: o.SendQuality, Timeout: o.Timeout,
			}, opts)
			if err != nil {
				return nil, err
			}
			return client.NewAsync(c), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown backend: %s (use local, ollama or llamacpp)", o.Backend)
	}
}

// ObjectDetector is an attached plugin with a convenience API for hosts
type ObjectDetector struct {
	plugin *channel.Plugin
}

// New builds the engine factory, creates the plugin and attaches it
func New(o Options) (*ObjectDetector, error) {
	factory, err := NewEngineFactory(o)
	if err != nil {
		return nil, err
	}

	if o.Detector == (types.DetectorOptions{}) {
		o.Detector = types.DefaultDetectorOptions()
	}
	pluginOpts := []channel.PluginOption{channel.WithDetectorOptions(o.Detector)}
	if o.Logger != nil {
		pluginOpts = append(pluginOpts, channel.WithLogger(o.Logger))
	}

	p := channel.NewPlugin(factory, pluginOpts...)
	if err := p.OnAttached(); err != nil {
		return nil, err
	}
	return &ObjectDetector{plugin: p}, nil
}

// Plugin returns the underlying channel plugin
func (od *ObjectDetector) Plugin() *channel.Plugin {
	return od.plugin
}

// Call sends one method call and waits for its reply
func (od *ObjectDetector) Call(ctx context.Context, call channel.MethodCall) (channel.Reply, error) {
	return channel.Call(ctx, od.plugin, call)
}

// DetectImage converts img to yuv420p planes and runs a detect call on them.
// rotation is the clockwise rotation that makes img upright.
func (od *ObjectDetector) DetectImage(ctx context.Context, img image.Image, rotation int) (channel.Reply, error) {
	b := img.Bounds()
	return od.Call(ctx, channel.MethodCall{
		Method:    channel.MethodDetect,
		Arguments: channel.DetectArguments(b.Dx(), b.Dy(), rotation, processing.ImageToPlanes(img)),
	})
}

// Close detaches the plugin and releases the engine
func (od *ObjectDetector) Close() error {
	return od.plugin.OnDetached()
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
