package session

import (
	"context"
	"errors"
	"sync"

	"gocv.io/x/gocv"
	"golang.org/x/time/rate"

	"github.com/ayusman/palmreader/internal/capture"
	"github.com/ayusman/palmreader/internal/detector"
	"github.com/ayusman/palmreader/internal/log"
	"github.com/ayusman/palmreader/internal/metrics"
	"github.com/ayusman/palmreader/internal/palm"
)

// maxConsecutiveFailures is how many frames in a row may fail to read
// or detect before the loop gives up.
const maxConsecutiveFailures = 10

// Scheduler runs fn at some later point, such as the next frame.
type Scheduler interface {
	Schedule(fn func())
	// Stop drops pending work. It must not be called from a scheduled fn.
	Stop()
}

// RateScheduler runs scheduled functions no faster than a fixed rate.
type RateScheduler struct {
	ctx     context.Context
	cancel  context.CancelFunc
	limiter *rate.Limiter
	wg      sync.WaitGroup
}

// NewRateScheduler paces calls at fps per second until ctx is done or
// Stop is called.
func NewRateScheduler(ctx context.Context, fps int) *RateScheduler {
	if fps <= 0 {
		fps = capture.DefaultFPS
	}
	ctx, cancel := context.WithCancel(ctx)
	return &RateScheduler{
		ctx:     ctx,
		cancel:  cancel,
		limiter: rate.NewLimiter(rate.Limit(fps), 1),
	}
}

func (s *RateScheduler) Schedule(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.limiter.Wait(s.ctx); err != nil {
			return
		}
		fn()
	}()
}

// Stop cancels pending calls and waits for a running one to return.
func (s *RateScheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// frameSource is the part of a capture session the loop reads from.
type frameSource interface {
	ReadFrame() (*gocv.Mat, error)
	Active() bool
}

var (
	errTooManyReadFailures   = errors.New("camera stopped delivering frames")
	errTooManyDetectFailures = errors.New("hand detector keeps failing")
)

// detectLoop submits frames to the detector one at a time. The next
// iteration is scheduled only from inside the current one, after its
// results are handled, and never once detected is set.
type detectLoop struct {
	src       frameSource
	det       detector.Detector
	heuristic palm.Heuristic
	debounce  *palm.Debouncer
	sched     Scheduler

	// onPreview receives the annotated frame as JPEG. Optional.
	onPreview func([]byte)
	// onTrigger is called once, on the iteration that sets detected.
	onTrigger func()
	// onFail is called once if the loop gives up.
	onFail func(error)

	detected    bool
	readFails   int
	detectFails int
	fields      log.Fields
}

func (l *detectLoop) start() {
	l.sched.Schedule(l.iterate)
}

func (l *detectLoop) iterate() {
	if l.detected || !l.src.Active() {
		return
	}

	if err := l.step(); err != nil {
		l.detected = true
		if l.onFail != nil {
			l.onFail(err)
		}
		return
	}

	if !l.detected {
		l.sched.Schedule(l.iterate)
	}
}

// step handles one frame. A non-nil error ends the loop.
func (l *detectLoop) step() error {
	frame, err := l.src.ReadFrame()
	if err != nil {
		if errors.Is(err, capture.ErrSessionStopped) {
			l.detected = true
			return nil
		}
		l.readFails++
		log.Debug(log.Fields{"error": err.Error(), "failures": l.readFails}, "frame read failed")
		if l.readFails >= maxConsecutiveFailures {
			return errors.Join(errTooManyReadFailures, err)
		}
		return nil
	}
	defer frame.Close()
	l.readFails = 0

	hands, err := l.det.Detect(frame)
	if err != nil {
		metrics.DetectorFrame("error")
		l.detectFails++
		log.Warn(log.Fields{"error": err.Error(), "failures": l.detectFails}, "hand detection failed")
		if l.detectFails >= maxConsecutiveFailures {
			return errors.Join(errTooManyDetectFailures, err)
		}
		return nil
	}
	l.detectFails = 0

	l.handle(frame, hands)
	return nil
}

// handle applies the heuristic to the first hand and flips the latch when
// the debouncer trusts it.
func (l *detectLoop) handle(frame *gocv.Mat, hands []detector.HandLandmarks) {
	open := false
	result := "none"
	if len(hands) > 0 {
		open = l.heuristic.IsOpen(palm.FrameOf(&hands[0]))
		result = "closed"
		if open {
			result = "open"
		}
	}
	metrics.DetectorFrame(result)

	if l.onPreview != nil {
		for i := range hands {
			detector.DrawLandmarks(frame, hands[i])
		}
		if data, err := capture.EncodeJPEG(frame); err == nil {
			l.onPreview(data)
		}
	}

	if l.debounce.Observe(open) {
		l.detected = true
		log.Info(l.fields, "open palm detected")
		if l.onTrigger != nil {
			l.onTrigger()
		}
	}
}
