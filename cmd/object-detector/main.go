package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	objectdetector "github.com/menta2k/object-detector"
	"github.com/menta2k/object-detector/internal/config"
	"github.com/menta2k/object-detector/internal/utils"
	"github.com/menta2k/object-detector/pkg/channel"
	"github.com/menta2k/object-detector/pkg/processing"
	"github.com/menta2k/object-detector/pkg/types"
	"github.com/menta2k/object-detector/pkg/vision"
)

// output is one line of the JSON report
type output struct {
	Input   string `json:"input"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Results any    `json:"results,omitempty"`
}

func main() {
	var in, cfgPath, envPath, backend, url, model, outDir, logLevel string
	var rotation, concurrency int
	var debug, logJSON bool

	flag.StringVar(&in, "in", "", "input image, directory or URL (jpg/png/webp)")
	flag.StringVar(&cfgPath, "config", "", "config file (default: "+config.GetConfigPath()+" if present)")
	flag.StringVar(&envPath, "env", "", "dotenv file with OBJECT_DETECTOR_* overrides")
	flag.StringVar(&backend, "backend", "", "backend to use: local, ollama or llamacpp")
	flag.StringVar(&url, "url", "", "server URL (defaults: ollama=http://localhost:11434, llamacpp=http://localhost:8080)")
	flag.StringVar(&model, "model", "", "model name")
	flag.IntVar(&rotation, "rotation", 0, "clockwise rotation of the frames: 0|90|180|270")
	flag.StringVar(&outDir, "out", "out", "output directory for debug overlays")
	flag.BoolVar(&debug, "debug", false, "write debug overlay images")
	flag.IntVar(&concurrency, "concurrency", 4, "detect calls in flight")
	flag.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.BoolVar(&logJSON, "log-json", false, "log as JSON")

	flag.Parse()
	if in == "" {
		log.Fatalf("usage: %s -in image.jpg|dir|URL [-backend local|ollama|llamacpp] [-url server_url] [-rotation 90] [-debug]", filepath.Base(os.Args[0]))
	}

	cfg, err := loadConfig(cfgPath, envPath)
	if err != nil {
		log.Fatal(err)
	}
	if backend != "" {
		cfg.Engine.Backend = backend
	}
	if url != "" {
		cfg.Engine.URL = url
	}
	if model != "" {
		cfg.Engine.Model = model
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logJSON {
		cfg.Log.JSON = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}

	inputs, err := utils.ExpandInputs(in)
	if err != nil {
		logger.WithError(err).Fatal("no inputs")
	}
	if debug {
		if err := utils.EnsureDir(outDir); err != nil {
			logger.WithError(err).Fatal("create output directory")
		}
	}

	factory, err := objectdetector.NewEngineFactory(optionsFromConfig(cfg, logger))
	if err != nil {
		logger.WithError(err).Fatal("create engine factory")
	}
	plugin := channel.NewPlugin(factory,
		channel.WithDetectorOptions(cfg.DetectorOptions()),
		channel.WithLogger(logger),
	)

	ctx := context.Background()
	var mu sync.Mutex
	enc := json.NewEncoder(os.Stdout)

	err = plugin.WithAttached(func(p *channel.Plugin) error {
		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(max(concurrency, 1))

		for _, input := range inputs {
			g.Go(func() error {
				out, results, img := detectOne(ctx, p, input, rotation, logger)

				mu.Lock()
				encErr := enc.Encode(out)
				mu.Unlock()
				if encErr != nil {
					return encErr
				}

				if debug && img != nil && results != nil {
					writeOverlay(img, rotation, results, input, outDir, logger)
				}
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		logger.WithError(err).Fatal("detection run failed")
	}
}

func loadConfig(cfgPath, envPath string) (*config.Config, error) {
	cfg := config.Default()
	if cfgPath == "" {
		if _, err := os.Stat(config.GetConfigPath()); err == nil {
			cfgPath = config.GetConfigPath()
		}
	}
	if cfgPath != "" {
		loaded, err := config.LoadFromFile(cfgPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if envPath != "" {
		if err := cfg.ApplyEnvFile(envPath); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newLogger(lc config.LogConfig) (*logrus.Entry, error) {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	l.SetLevel(level)
	if lc.JSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return logrus.NewEntry(l).WithField("component", "object-detector"), nil
}

func optionsFromConfig(cfg *config.Config, logger *logrus.Entry) objectdetector.Options {
	return objectdetector.Options{
		Backend:     cfg.Engine.Backend,
		URL:         cfg.Engine.URL,
		Model:       cfg.Engine.Model,
		SendFormat:  cfg.Engine.SendFormat,
		SendSize:    cfg.Engine.SendSize,
		SendQuality: cfg.Engine.SendQuality,
		Timeout:     cfg.Timeout(),
		Vision: vision.DetectionConfig{
			EdgeThreshold:    cfg.Vision.EdgeThreshold,
			ContrastWeight:   cfg.Vision.ContrastWeight,
			BrightnessWeight: cfg.Vision.BrightnessWeight,
			MinSubjectRatio:  cfg.Vision.MinSubjectRatio,
			MaxObjects:       cfg.Vision.MaxObjects,
			TrackIoU:         cfg.Vision.TrackIoU,
		},
		Detector: cfg.DetectorOptions(),
		Logger:   logger,
	}
}

// detectOne sends a single image through the plugin. Load failures are
// reported in the output rather than aborting the batch.
func detectOne(ctx context.Context, p *channel.Plugin, input string, rotation int, logger *logrus.Entry) (output, []types.DetectionResult, image.Image) {
	out := output{Input: input}

	img, err := processing.LoadImageSmart(input)
	if err != nil {
		logger.WithError(err).WithField("input", input).Warn("load failed")
		out.Code, out.Message = "LOAD_ERROR", err.Error()
		return out, nil, nil
	}
	b := img.Bounds()
	out.Width, out.Height = b.Dx(), b.Dy()

	reply, err := channel.Call(ctx, p, channel.MethodCall{
		Method:    channel.MethodDetect,
		Arguments: channel.DetectArguments(b.Dx(), b.Dy(), rotation, processing.ImageToPlanes(img)),
	})
	if err != nil {
		out.Code, out.Message = "CANCELLED", err.Error()
		return out, nil, img
	}
	if reply.IsError() {
		logger.WithFields(logrus.Fields{"input": input, "code": reply.Code}).Error(reply.Message)
		out.Code, out.Message = reply.Code, reply.Message
		return out, nil, img
	}

	out.Results = reply.Value
	return out, decodeResults(reply.Value), img
}

// decodeResults reads boxes back out of a detect reply for the overlay
func decodeResults(value any) []types.DetectionResult {
	items, _ := value.([]map[string]any)
	results := make([]types.DetectionResult, 0, len(items))
	for _, item := range items {
		box, ok := item[channel.KeyBoundingBox].([]int)
		if !ok || len(box) != 4 {
			continue
		}
		r := types.DetectionResult{
			BoundingBox: types.BoundingBox{Left: box[0], Top: box[1], Right: box[2], Bottom: box[3]},
		}
		labels, _ := item[channel.KeyLabels].([]map[string]any)
		for _, l := range labels {
			text, _ := l[channel.KeyText].(string)
			conf, _ := l[channel.KeyConfidence].(float64)
			r.Labels = append(r.Labels, types.Label{Text: text, Confidence: conf})
		}
		results = append(results, r)
	}
	return results
}

func writeOverlay(img image.Image, rotation int, results []types.DetectionResult, input, outDir string, logger *logrus.Entry) {
	upright, err := processing.Upright(img, rotation)
	if err != nil {
		logger.WithError(err).Warn("rotate for overlay failed")
		return
	}
	path := utils.GenerateOutputFilename(input, outDir, "_detections", "png")
	if err := processing.SaveImage(processing.CreateDebugOverlay(upright, results), path, "png", 92, false); err != nil {
		logger.WithError(err).WithField("path", path).Warn("debug overlay save failed")
		return
	}
	logger.WithField("path", path).Info("wrote overlay")
}
