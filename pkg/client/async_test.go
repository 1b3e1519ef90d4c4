package client

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/object-detector/pkg/types"
)

type stubAnalyzer struct {
	release chan struct{}
	calls   atomic.Int32
	closed  atomic.Bool
	panics  bool
}

func (s *stubAnalyzer) Analyze(_ context.Context, frame types.AssembledFrame) ([]types.DetectionResult, error) {
	s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}
	if s.panics {
		panic("decoder exploded")
	}
	if len(frame.Data) == 0 {
		return nil, errors.New("no data")
	}
	return []types.DetectionResult{{BoundingBox: types.BoundingBox{Right: frame.Width, Bottom: frame.Height}}}, nil
}

func (s *stubAnalyzer) Close() error {
	s.closed.Store(true)
	return nil
}

type result struct {
	results []types.DetectionResult
	err     error
}

func process(e Engine, frame types.AssembledFrame) <-chan result {
	ch := make(chan result, 1)
	e.Process(context.Background(), frame, func(r []types.DetectionResult, err error) {
		ch <- result{r, err}
	})
	return ch
}

func TestAsyncDelivers(t *testing.T) {
	e := NewAsync(&stubAnalyzer{})

	r := <-process(e, types.AssembledFrame{Data: []byte{1}, Width: 4, Height: 2})
	require.NoError(t, r.err)
	require.Len(t, r.results, 1)
	assert.Equal(t, 4, r.results[0].BoundingBox.Right)

	r = <-process(e, types.AssembledFrame{})
	assert.EqualError(t, r.err, "no data")
}

func TestAsyncRecoversPanic(t *testing.T) {
	e := NewAsync(&stubAnalyzer{panics: true})

	r := <-process(e, types.AssembledFrame{Data: []byte{1}})
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "decoder exploded")
}

func TestAsyncCloseWaitsForInflight(t *testing.T) {
	a := &stubAnalyzer{release: make(chan struct{})}
	e := NewAsync(a)

	pending := process(e, types.AssembledFrame{Data: []byte{1}})
	require.Eventually(t, func() bool { return a.calls.Load() == 1 }, time.Second, time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- e.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while an analysis was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(a.release)
	r := <-pending
	assert.NoError(t, r.err)
	assert.NoError(t, <-closed)
	assert.True(t, a.closed.Load())

	r = <-process(e, types.AssembledFrame{Data: []byte{1}})
	assert.ErrorIs(t, r.err, ErrEngineClosed)
	assert.NoError(t, e.Close())
}
