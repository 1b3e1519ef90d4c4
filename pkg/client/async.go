package client

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/menta2k/object-detector/pkg/types"
)

// ErrEngineClosed is reported to completions submitted after Close
var ErrEngineClosed = errors.New("engine closed")

// asyncEngine runs a blocking Analyzer on one goroutine per frame
type asyncEngine struct {
	analyzer Analyzer

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewAsync wraps a blocking Analyzer into a callback-style Engine.
// Close waits for in-flight analyses before closing the analyzer.
func NewAsync(a Analyzer) Engine {
	return &asyncEngine{analyzer: a}
}

func (e *asyncEngine) Process(ctx context.Context, frame types.AssembledFrame, done Completion) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		go done(nil, ErrEngineClosed)
		return
	}
	e.inflight.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.inflight.Done()
		results, err := e.analyze(ctx, frame)
		done(results, err)
	}()
}

// analyze converts analyzer panics into errors so a completion always fires
func (e *asyncEngine) analyze(ctx context.Context, frame types.AssembledFrame) (results []types.DetectionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			results, err = nil, errors.Errorf("analyzer panic: %v", r)
		}
	}()
	return e.analyzer.Analyze(ctx, frame)
}

func (e *asyncEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.inflight.Wait()
	return e.analyzer.Close()
}
