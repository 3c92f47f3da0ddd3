package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/palmreader/internal/capture"
	"github.com/ayusman/palmreader/internal/detector"
	"github.com/ayusman/palmreader/internal/log"
	"github.com/ayusman/palmreader/internal/metrics"
	"github.com/ayusman/palmreader/internal/palm"
	"github.com/ayusman/palmreader/internal/predict"
)

// Trigger selects what decides the moment of capture.
type Trigger string

const (
	// TriggerPalm captures after an open palm is detected.
	TriggerPalm Trigger = "palm"
	// TriggerDelay captures a fixed delay after the camera is ready.
	TriggerDelay Trigger = "delay"
)

// DefaultDelay is the wait used by TriggerDelay.
const DefaultDelay = 3 * time.Second

// Predictor turns a JPEG still into a prediction.
type Predictor interface {
	Submit(ctx context.Context, jpeg []byte) (*predict.Prediction, error)
}

// Recorder keeps finished sessions.
type Recorder interface {
	Record(ctx context.Context, v View) error
}

// Options configures a Controller. Zero values pick defaults.
type Options struct {
	Trigger   Trigger
	Detector  detector.Detector
	Heuristic palm.Heuristic
	// Debounce is how many consecutive open-palm frames are required.
	Debounce int
	// Countdown is the number of seconds counted down before capture.
	// Zero captures as soon as the trigger fires.
	Countdown int
	Delay     time.Duration
	DetectFPS int

	ReadyTimeout time.Duration
	TickInterval time.Duration
	NewScheduler func(ctx context.Context) Scheduler
	NewTicker    func(time.Duration) Ticker

	Recorder Recorder
}

// Controller owns the camera and runs one reading session at a time.
type Controller struct {
	camera    capture.Camera
	predictor Predictor
	opts      Options

	running atomic.Bool

	mu      sync.Mutex
	view    View
	seq     uint64
	subs    []subscriber
	nextSub int

	previewMu sync.RWMutex
	preview   []byte
}

// NewController creates a controller. Without a detector the palm
// trigger falls back to the delay trigger.
func NewController(cam capture.Camera, p Predictor, opts Options) *Controller {
	if opts.Trigger == "" {
		opts.Trigger = TriggerPalm
	}
	if opts.Trigger == TriggerPalm && opts.Detector == nil {
		log.Warn(log.Fields{}, "no hand detector available, using delay trigger")
		opts.Trigger = TriggerDelay
	}
	if opts.Heuristic == nil {
		opts.Heuristic = palm.Strict{}
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.DetectFPS <= 0 {
		opts.DetectFPS = capture.DefaultFPS
	}
	if opts.NewScheduler == nil {
		fps := opts.DetectFPS
		opts.NewScheduler = func(ctx context.Context) Scheduler {
			return NewRateScheduler(ctx, fps)
		}
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewTicker
	}

	return &Controller{
		camera:    cam,
		predictor: p,
		opts:      opts,
		view:      View{State: StateIdle},
	}
}

// Trigger returns the effective trigger mode.
func (c *Controller) Trigger() Trigger {
	return c.opts.Trigger
}

// Busy reports whether a session is running.
func (c *Controller) Busy() bool {
	return c.running.Load()
}

// View returns a snapshot of the current view.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Subscribe registers fn for view changes and returns a function that
// removes it. Observers run on the session goroutine, outside any lock.
func (c *Controller) Subscribe(fn Observer) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, subscriber{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// Preview returns the latest live frame as JPEG, or nil when the camera
// is not showing.
func (c *Controller) Preview() []byte {
	c.previewMu.RLock()
	defer c.previewMu.RUnlock()
	return c.preview
}

func (c *Controller) setPreview(data []byte) {
	c.previewMu.Lock()
	c.preview = data
	c.previewMu.Unlock()
}

// Reset clears a finished session so the next person starts from Idle.
func (c *Controller) Reset() error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer c.running.Store(false)

	if c.View().State == StateIdle {
		return nil
	}
	c.enter(StateIdle, func(v *View) { *v = View{} })
	return nil
}

// Read runs a whole session: open the camera, wait for the trigger,
// count down, capture, and submit. It returns ErrBusy if a session is
// already running. Failures are returned as *Error.
func (c *Controller) Read(ctx context.Context) (*predict.Prediction, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	return c.read(ctx)
}

// Start runs a session in the background and returns immediately. Like
// Read, it returns ErrBusy rather than queueing.
func (c *Controller) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	go c.read(ctx)
	return nil
}

func (c *Controller) read(ctx context.Context) (*predict.Prediction, error) {
	id := uuid.NewString()
	fields := log.Fields{"session_id": id, "trigger": string(c.opts.Trigger)}
	log.Info(fields, "reading started")
	metrics.SessionStarted()

	c.enter(StateAcquiring, func(v *View) { *v = View{SessionID: id} })

	pred, err := c.run(ctx, fields)
	if err != nil {
		var serr *Error
		if !errors.As(err, &serr) {
			serr = newError(KindPrediction, err)
		}
		metrics.SessionFinished(serr.Kind.String())
		log.Warn(log.Fields{"session_id": id, "kind": serr.Kind.String(), "error": serr.Error()}, "reading failed")
		c.finish(ctx, StateError, fields, func(v *View) {
			v.CameraVisible = false
			v.Loading = false
			v.Countdown = 0
			v.Error = serr.Message
		})
		return nil, serr
	}

	metrics.SessionFinished("done")
	log.Info(fields, "reading finished")
	c.finish(ctx, StateDone, fields, func(v *View) {
		v.Loading = false
		v.Prediction = pred.Text
		v.Summary = pred.Summary
		v.ImageURL = pred.ImageURL
	})
	return pred, nil
}

func (c *Controller) run(ctx context.Context, fields log.Fields) (*predict.Prediction, error) {
	sess, err := capture.StartSession(c.camera)
	if err != nil {
		return nil, fail(ctx, KindCamera, err)
	}
	defer c.release(sess)

	c.update(func(v *View) { v.CameraVisible = true })

	if err := sess.WaitReady(ctx, c.opts.ReadyTimeout); err != nil {
		return nil, fail(ctx, KindCamera, err)
	}

	if err := c.awaitTrigger(ctx, sess, fields); err != nil {
		return nil, err
	}

	if c.opts.Countdown > 0 {
		c.enter(StateCountdown, nil)
	}
	var (
		jpeg   []byte
		capErr error
	)
	cd := Countdown{From: c.opts.Countdown, Interval: c.opts.TickInterval, NewTicker: c.opts.NewTicker}
	err = cd.Run(ctx,
		func(n int) { c.update(func(v *View) { v.Countdown = n }) },
		func() { jpeg, capErr = c.capture(sess) },
	)
	if err != nil {
		return nil, newError(KindCanceled, err)
	}
	if capErr != nil {
		return nil, fail(ctx, KindCapture, capErr)
	}

	c.enter(StateSubmitting, nil)
	pred, err := c.predictor.Submit(ctx, jpeg)
	if err != nil {
		return nil, fail(ctx, KindPrediction, err)
	}
	return pred, nil
}

func (c *Controller) awaitTrigger(ctx context.Context, sess *capture.Session, fields log.Fields) error {
	if c.opts.Trigger == TriggerDelay {
		c.enter(StateWaiting, nil)
		return c.waitDelay(ctx, sess)
	}
	c.enter(StateDetecting, nil)
	return c.detect(ctx, sess, fields)
}

// detect runs the detection loop until it latches or fails.
func (c *Controller) detect(ctx context.Context, sess *capture.Session, fields log.Fields) error {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sched := c.opts.NewScheduler(loopCtx)
	defer sched.Stop()

	// The latch guarantees at most one send.
	done := make(chan error, 1)
	loop := &detectLoop{
		src:       sess,
		det:       c.opts.Detector,
		heuristic: c.opts.Heuristic,
		debounce:  palm.NewDebouncer(c.opts.Debounce),
		sched:     sched,
		onPreview: c.setPreview,
		onTrigger: func() { done <- nil },
		onFail:    func(err error) { done <- err },
		fields:    fields,
	}
	loop.start()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if errors.Is(err, errTooManyReadFailures) {
			return fail(ctx, KindCamera, err)
		}
		return fail(ctx, KindDetector, err)
	case <-ctx.Done():
		return newError(KindCanceled, ctx.Err())
	}
}

// waitDelay keeps the preview fresh until the delay has passed.
func (c *Controller) waitDelay(ctx context.Context, sess *capture.Session) error {
	timer := time.NewTimer(c.opts.Delay)
	defer timer.Stop()
	ticker := time.NewTicker(time.Second / time.Duration(c.opts.DetectFPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return newError(KindCanceled, ctx.Err())
		case <-timer.C:
			return nil
		case <-ticker.C:
			frame, err := sess.ReadFrame()
			if err != nil {
				continue
			}
			if data, err := capture.EncodeJPEG(frame); err == nil {
				c.setPreview(data)
			}
			frame.Close()
		}
	}
}

// capture freezes the current frame, releases the camera, and encodes the still.
func (c *Controller) capture(sess *capture.Session) ([]byte, error) {
	c.enter(StateCapturing, func(v *View) {
		v.Countdown = 0
		v.Loading = true
	})

	frame, err := sess.ReadFrame()
	if err != nil {
		return nil, errors.Join(capture.ErrCapture, err)
	}
	still, err := capture.Snapshot(frame)
	frame.Close()
	defer still.Close()
	if err != nil {
		return nil, err
	}

	c.release(sess)
	return capture.EncodeJPEG(&still)
}

// release stops the camera and hides the preview. Safe to call repeatedly.
func (c *Controller) release(sess *capture.Session) {
	if err := sess.Stop(); err != nil {
		log.Warn(log.Fields{"error": err.Error()}, "closing camera")
	}
	c.setPreview(nil)
	if c.View().CameraVisible {
		c.update(func(v *View) { v.CameraVisible = false })
	}
}

func (c *Controller) record(ctx context.Context, v View, fields log.Fields) {
	if c.opts.Recorder == nil {
		return
	}
	if err := c.opts.Recorder.Record(context.WithoutCancel(ctx), v); err != nil {
		log.Warn(log.Fields{"session_id": fields["session_id"], "error": err.Error()}, "recording reading")
	}
}

// enter moves the view to next. Invalid moves are logged, not refused.
func (c *Controller) enter(next State, fn func(*View)) {
	c.update(transition(next, fn))
}

// finish moves the view to a terminal state. The reading is recorded and
// the controller is idle again before any observer hears about it, so an
// observer may already see the next session's views; View.Seq orders them.
func (c *Controller) finish(ctx context.Context, next State, fields log.Fields, fn func(*View)) {
	c.mu.Lock()
	transition(next, fn)(&c.view)
	v := c.stampLocked()
	observers := c.observersLocked()
	c.mu.Unlock()

	c.record(ctx, v, fields)
	c.running.Store(false)
	for _, o := range observers {
		o(v)
	}
}

func transition(next State, fn func(*View)) func(*View) {
	return func(v *View) {
		if !v.State.CanTransition(next) {
			log.Error(log.Fields{"from": string(v.State), "to": string(next)}, "invalid session transition")
		}
		if fn != nil {
			fn(v)
		}
		v.State = next
	}
}

// update applies fn under the lock and notifies observers after releasing it.
func (c *Controller) update(fn func(*View)) {
	c.mu.Lock()
	fn(&c.view)
	v := c.stampLocked()
	observers := c.observersLocked()
	c.mu.Unlock()

	for _, o := range observers {
		o(v)
	}
}

// stampLocked gives the current view the next sequence number and returns a copy.
func (c *Controller) stampLocked() View {
	c.seq++
	c.view.Seq = c.seq
	return c.view
}

func (c *Controller) observersLocked() []Observer {
	observers := make([]Observer, len(c.subs))
	for i, s := range c.subs {
		observers[i] = s.fn
	}
	return observers
}

// fail wraps err as kind, unless ctx was canceled first.
func fail(ctx context.Context, kind Kind, err error) *Error {
	if ctx.Err() != nil {
		return newError(KindCanceled, err)
	}
	return newError(kind, err)
}
