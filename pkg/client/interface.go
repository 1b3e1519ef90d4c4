package client

import (
	"context"

	"github.com/menta2k/object-detector/pkg/types"
)

// Completion receives the outcome of one Process call
type Completion func(results []types.DetectionResult, err error)

// Engine is a long-lived detector handle. Process must not block; the outcome
// is delivered later through done.
type Engine interface {
	Process(ctx context.Context, frame types.AssembledFrame, done Completion)
	Close() error
}

// Analyzer is a blocking detection backend
type Analyzer interface {
	Analyze(ctx context.Context, frame types.AssembledFrame) ([]types.DetectionResult, error)
	Close() error
}

// Factory creates an Engine configured with opts
type Factory func(opts types.DetectorOptions) (Engine, error)
