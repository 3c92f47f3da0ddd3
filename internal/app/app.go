// Package app wires the palm reader together: camera, detector,
// session controller, history, viewer server and tray.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/palmreader/internal/capture"
	"github.com/ayusman/palmreader/internal/config"
	"github.com/ayusman/palmreader/internal/detector"
	"github.com/ayusman/palmreader/internal/log"
	"github.com/ayusman/palmreader/internal/metrics"
	"github.com/ayusman/palmreader/internal/palm"
	"github.com/ayusman/palmreader/internal/predict"
	"github.com/ayusman/palmreader/internal/server"
	"github.com/ayusman/palmreader/internal/server/api"
	"github.com/ayusman/palmreader/internal/session"
	"github.com/ayusman/palmreader/internal/store"
	"github.com/ayusman/palmreader/internal/tray"
)

// App is the assembled palm reader.
type App struct {
	config     config.Config
	camera     capture.Camera
	detector   detector.Detector
	predictor  *predict.Client
	controller *session.Controller
	store      *store.Store
	registry   *prometheus.Registry
	server     *server.Server
}

// Option overrides a component, mainly for tests.
type Option func(*App)

// WithCamera replaces the gocv camera.
func WithCamera(cam capture.Camera) Option {
	return func(a *App) { a.camera = cam }
}

// WithDetector replaces the MediaPipe detector.
func WithDetector(d detector.Detector) Option {
	return func(a *App) { a.detector = d }
}

// New creates an App from cfg. cfg must already be valid.
func New(cfg config.Config, opts ...Option) (*App, error) {
	a := &App{config: cfg}
	for _, opt := range opts {
		opt(a)
	}

	if a.camera == nil {
		a.camera = capture.NewCamera(cfg.CameraID)
	}
	a.camera.SetFPS(cfg.DetectFPS)
	log.Debug(log.Fields{"camera": cfg.CameraID, "fps": a.camera.FPS()}, "camera configured")

	if a.detector == nil && cfg.Trigger == string(session.TriggerPalm) {
		dcfg := detector.DefaultConfig()
		dcfg.ScriptPath = cfg.DetectorScript
		if mp, err := detector.NewMediaPipeDetector(dcfg); err == nil {
			a.detector = mp
			log.Info(log.Fields{}, "using MediaPipe hand detection")
		} else {
			log.Warn(log.Fields{"error": err.Error()}, "MediaPipe not available, capturing after a fixed delay instead")
		}
	}

	thumb, err := palm.ParseThumbDirection(cfg.Thumb)
	if err != nil {
		return nil, err
	}
	heuristic, err := palm.New(cfg.Heuristic, thumb)
	if err != nil {
		return nil, err
	}
	resolver, err := predict.NewResolver(cfg.URLMode)
	if err != nil {
		return nil, err
	}
	a.predictor = predict.NewClient(cfg.PredictorURL, predict.WithResolver(resolver))

	var recorder session.Recorder
	var history api.History
	if path := cfg.DatabasePath(); path != "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		st, err := store.New(path)
		if err != nil {
			return nil, err
		}
		a.store = st
		log.Info(log.Fields{"path": st.Path()}, "reading history enabled")
		recorder = st.Readings()
		history = st.Readings()
	}

	a.controller = session.NewController(a.camera, a.predictor, session.Options{
		Trigger:   session.Trigger(cfg.Trigger),
		Detector:  a.detector,
		Heuristic: heuristic,
		Debounce:  cfg.Debounce,
		Countdown: cfg.Countdown,
		Delay:     cfg.Delay,
		DetectFPS: cfg.DetectFPS,
		Recorder:  recorder,
	})
	a.controller.Subscribe(func(v session.View) {
		log.Debug(log.Fields{"session_id": v.SessionID, "state": string(v.State), "countdown": v.Countdown}, "view changed")
	})

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.Register(a.registry); err != nil {
		a.Close()
		return nil, err
	}

	a.server = server.New(server.Config{
		StaticDir: cfg.WebDir,
		Reader:    a.controller,
		History:   history,
		Gatherer:  a.registry,
		StreamFPS: cfg.DetectFPS,
	})

	return a, nil
}

// Controller returns the session controller.
func (a *App) Controller() *session.Controller {
	return a.controller
}

// Handler returns the viewer's HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server
}

// Store returns the reading history, or nil when it is disabled.
func (a *App) Store() *store.Store {
	return a.store
}

// ReadOnce runs a single session in the foreground.
func (a *App) ReadOnce(ctx context.Context) (*predict.Prediction, error) {
	return a.controller.Read(ctx)
}

// FetchImage downloads the annotated image of a prediction.
func (a *App) FetchImage(ctx context.Context, url string) ([]byte, error) {
	return a.predictor.FetchImage(ctx, url)
}

// ViewerURL is the address a browser should open.
func (a *App) ViewerURL() string {
	return viewerURL(a.config.Addr)
}

// Serve runs the viewer server, and the tray when enabled, until ctx is
// done or the tray's Quit is chosen. The tray needs the calling goroutine,
// so call Serve from main.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.ListenAndServe(gctx, a.config.Addr)
	})

	if a.config.Tray {
		t := tray.New()
		t.OnRead(func() {
			if err := a.controller.Start(gctx); err != nil {
				log.Info(log.Fields{"error": err.Error()}, "tray read ignored")
			}
		})
		t.OnOpenViewer(func() {
			if err := openBrowser(a.ViewerURL()); err != nil {
				log.Warn(log.Fields{"error": err.Error()}, "opening viewer")
			}
		})
		t.OnQuit(cancel)
		t.ShowLast(a.lastPrediction(ctx))
		unsubscribe := a.controller.Subscribe(t.Update)
		defer unsubscribe()

		g.Go(func() error {
			<-gctx.Done()
			t.Quit()
			return nil
		})
		t.Run()
		cancel()
	}

	return g.Wait()
}

// lastPrediction returns the newest successful prediction in the history,
// or "" when there is none or history is disabled.
func (a *App) lastPrediction(ctx context.Context) string {
	if a.store == nil {
		return ""
	}
	last, err := a.store.Readings().Latest(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn(log.Fields{"error": err.Error()}, "loading last reading")
		}
		return ""
	}
	return last.Prediction
}

// Close releases the detector, the history database and the server.
func (a *App) Close() error {
	if a.server != nil {
		a.server.Close()
	}
	if a.detector != nil {
		if err := a.detector.Close(); err != nil {
			log.Warn(log.Fields{"error": err.Error()}, "closing detector")
		}
	}
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}
