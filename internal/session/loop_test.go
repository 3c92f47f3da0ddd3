package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/palmreader/internal/capture"
	"github.com/ayusman/palmreader/internal/detector"
	"github.com/ayusman/palmreader/internal/palm"
)

// manualScheduler queues scheduled functions until the test runs them.
type manualScheduler struct {
	mu        sync.Mutex
	pending   []func()
	scheduled int
	stopped   bool
}

func (s *manualScheduler) Schedule(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, fn)
	s.scheduled++
}

func (s *manualScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.pending = nil
}

// step runs the oldest pending function and reports whether there was one.
func (s *manualScheduler) step() bool {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return false
	}
	fn := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()

	fn()
	return true
}

func (s *manualScheduler) count() (pending, scheduled int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending), s.scheduled
}

type fakeSource struct {
	active bool
	err    error
	reads  int
}

func (f *fakeSource) ReadFrame() (*gocv.Mat, error) {
	f.reads++
	if f.err != nil {
		return nil, f.err
	}
	m := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	return &m, nil
}

func (f *fakeSource) Active() bool { return f.active }

type loopRecorder struct {
	triggers int
	fails    []error
}

func newTestLoop(src frameSource, det detector.Detector, sched Scheduler, debounce int) (*detectLoop, *loopRecorder) {
	p := &loopRecorder{}
	return &detectLoop{
		src:       src,
		det:       det,
		heuristic: palm.Strict{},
		debounce:  palm.NewDebouncer(debounce),
		sched:     sched,
		onTrigger: func() { p.triggers++ },
		onFail:    func(err error) { p.fails = append(p.fails, err) },
	}, p
}

func TestDetectLoop_StopsReschedulingAfterLatch(t *testing.T) {
	open := detector.OpenPalmLandmarks()
	fist := detector.FistLandmarks()

	det := detector.NewMockDetector()
	det.Enqueue(
		[]detector.HandLandmarks{fist},
		nil,
		[]detector.HandLandmarks{open},
		[]detector.HandLandmarks{open},
	)
	det.SetHands([]detector.HandLandmarks{open})

	sched := &manualScheduler{}
	loop, rec := newTestLoop(&fakeSource{active: true}, det, sched, 2)
	loop.start()

	for i := 0; i < 3; i++ {
		require.True(t, sched.step())
		pending, _ := sched.count()
		assert.Equal(t, 1, pending, "iteration %d must reschedule before the latch", i)
		assert.Equal(t, 0, rec.triggers)
	}

	require.True(t, sched.step())
	assert.True(t, loop.detected)
	assert.Equal(t, 1, rec.triggers)

	pending, scheduled := sched.count()
	assert.Equal(t, 0, pending, "no iteration may be scheduled after the latch")
	assert.Equal(t, 4, scheduled)
	assert.Equal(t, 4, det.Calls())

	// A stale iteration arriving late must not reach the detector.
	loop.iterate()
	assert.Equal(t, 4, det.Calls())
	_, scheduled = sched.count()
	assert.Equal(t, 4, scheduled)
}

func TestDetectLoop_InactiveSourceIsNoop(t *testing.T) {
	det := detector.NewMockDetector()
	src := &fakeSource{active: false}
	sched := &manualScheduler{}
	loop, rec := newTestLoop(src, det, sched, 1)

	loop.start()
	require.True(t, sched.step())

	assert.Equal(t, 0, src.reads)
	assert.Equal(t, 0, det.Calls())
	assert.Equal(t, 0, rec.triggers)
	pending, _ := sched.count()
	assert.Equal(t, 0, pending)
}

func TestDetectLoop_StoppedSessionEndsQuietly(t *testing.T) {
	det := detector.NewMockDetector()
	sched := &manualScheduler{}
	loop, rec := newTestLoop(&fakeSource{active: true, err: capture.ErrSessionStopped}, det, sched, 1)

	loop.start()
	require.True(t, sched.step())

	assert.False(t, sched.step())
	assert.Empty(t, rec.fails)
	assert.Equal(t, 0, det.Calls())
}

func TestDetectLoop_GivesUpAfterRepeatedFailures(t *testing.T) {
	t.Run("detector", func(t *testing.T) {
		det := detector.NewMockDetector()
		det.SetError(errors.New("service crashed"))
		sched := &manualScheduler{}
		loop, rec := newTestLoop(&fakeSource{active: true}, det, sched, 1)

		loop.start()
		steps := 0
		for sched.step() {
			steps++
		}

		assert.Equal(t, maxConsecutiveFailures, steps)
		require.Len(t, rec.fails, 1)
		assert.ErrorIs(t, rec.fails[0], errTooManyDetectFailures)
		assert.Equal(t, 0, rec.triggers)
	})

	t.Run("camera", func(t *testing.T) {
		det := detector.NewMockDetector()
		sched := &manualScheduler{}
		loop, rec := newTestLoop(&fakeSource{active: true, err: errors.New("usb reset")}, det, sched, 1)

		loop.start()
		for sched.step() {
		}

		require.Len(t, rec.fails, 1)
		assert.ErrorIs(t, rec.fails[0], errTooManyReadFailures)
		assert.Equal(t, 0, det.Calls())
	})
}

func TestDetectLoop_PublishesPreview(t *testing.T) {
	det := detector.NewMockDetector()
	det.SetHands([]detector.HandLandmarks{detector.FistLandmarks()})
	sched := &manualScheduler{}
	loop, _ := newTestLoop(&fakeSource{active: true}, det, sched, 1)

	var previews [][]byte
	loop.onPreview = func(b []byte) { previews = append(previews, b) }

	loop.start()
	require.True(t, sched.step())
	require.True(t, sched.step())

	require.Len(t, previews, 2)
	assert.Equal(t, []byte{0xFF, 0xD8}, previews[0][:2])
}

func TestRateScheduler(t *testing.T) {
	t.Run("runs scheduled work", func(t *testing.T) {
		s := NewRateScheduler(context.Background(), 1000)
		defer s.Stop()

		var n atomic.Int32
		done := make(chan struct{})
		var step func()
		step = func() {
			if n.Add(1) == 5 {
				close(done)
				return
			}
			s.Schedule(step)
		}
		s.Schedule(step)

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("scheduler did not run chained work")
		}
		assert.Equal(t, int32(5), n.Load())
	})

	t.Run("stop drops pending work", func(t *testing.T) {
		s := NewRateScheduler(context.Background(), 1)
		var ran atomic.Bool

		// The first call consumes the burst; the second waits a full second.
		first := make(chan struct{})
		s.Schedule(func() { close(first) })
		<-first
		s.Schedule(func() { ran.Store(true) })
		s.Stop()

		assert.False(t, ran.Load())
	})
}
