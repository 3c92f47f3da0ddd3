package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// ErrSessionStopped is returned when reading from a stopped session.
var ErrSessionStopped = errors.New("capture session stopped")

// DefaultReadyTimeout bounds how long WaitReady waits for a first frame.
const DefaultReadyTimeout = 10 * time.Second

// readyPoll is the pause between failed reads while waiting for a frame.
const readyPoll = 50 * time.Millisecond

// Session is one exclusive use of a camera. It is released exactly once
// by Stop, however many paths call it.
type Session struct {
	camera  Camera
	once    sync.Once
	stopped atomic.Bool
	stopErr error
}

// StartSession opens cam and returns a session owning it. On failure the
// camera is closed again and the error wraps ErrPermission or ErrDevice.
func StartSession(cam Camera) (*Session, error) {
	if err := cam.Open(); err != nil {
		cam.Close()
		if errors.Is(err, ErrPermission) || errors.Is(err, ErrDevice) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDevice, err)
	}
	return &Session{camera: cam}, nil
}

// WaitReady blocks until the camera yields its first non-empty frame,
// ctx is done, or timeout elapses.
func (s *Session) WaitReady(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		frame, err := s.ReadFrame()
		if err == nil {
			frame.Close()
			return nil
		}
		if errors.Is(err, ErrSessionStopped) {
			return err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: no frame before timeout: %v", ErrDevice, err)
		case <-time.After(readyPoll):
		}
	}
}

// ReadFrame reads the current frame. The caller must close it.
func (s *Session) ReadFrame() (*gocv.Mat, error) {
	if s.stopped.Load() {
		return nil, ErrSessionStopped
	}
	return s.camera.ReadFrame()
}

// Active reports whether the session still owns the camera.
func (s *Session) Active() bool {
	return !s.stopped.Load()
}

// Stop releases the camera. Only the first call closes the device; later
// calls return the same result.
func (s *Session) Stop() error {
	s.once.Do(func() {
		s.stopped.Store(true)
		s.stopErr = s.camera.Close()
	})
	return s.stopErr
}
