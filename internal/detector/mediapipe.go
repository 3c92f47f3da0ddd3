package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/palmreader/internal/log"
)

// DefaultIdleTimeout is how long the service may sit without frames
// before it is stopped. The next Detect starts it again.
const DefaultIdleTimeout = 30 * time.Second

const scriptName = "mediapipe_service.py"

// ErrScriptNotFound is returned when the MediaPipe service script cannot be located.
var ErrScriptNotFound = errors.New(scriptName + " not found")

// MediaPipeDetector finds hands with a MediaPipe Python service running
// as a child process.
//
// A request is a 4-byte big-endian length and a JPEG frame on stdin; the
// reply is one JSON line on stdout.
type MediaPipeDetector struct {
	config Config
	script string
	python string

	mu   sync.Mutex
	svc  *service
	idle *time.Timer
}

// NewMediaPipeDetector locates the service script and interpreter. The
// process itself is started on the first Detect.
func NewMediaPipeDetector(config Config) (*MediaPipeDetector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if config.JPEGQuality == 0 {
		config.JPEGQuality = DefaultConfig().JPEGQuality
	}

	script := config.ScriptPath
	if script == "" {
		script = locate(filepath.Join("scripts", scriptName))
	} else if _, err := os.Stat(script); err != nil {
		script = ""
	}
	if script == "" {
		return nil, ErrScriptNotFound
	}

	python := config.Python
	if python == "" {
		python = locate(filepath.Join("venv", "bin", "python"))
	}
	if python == "" {
		python = "python3"
	}

	return &MediaPipeDetector{config: config, script: script, python: python}, nil
}

// Detect sends frame to the service and returns the hands it found.
// An empty frame yields no hands.
func (d *MediaPipeDetector) Detect(frame *gocv.Mat) ([]HandLandmarks, error) {
	if frame == nil || frame.Empty() {
		return nil, nil
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, *frame, []int{int(gocv.IMWriteJpegQuality), d.config.JPEGQuality})
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.svc == nil {
		svc, err := startService(d.python, d.script, d.config.args())
		if err != nil {
			return nil, err
		}
		d.svc = svc
	}

	hands, err := exchange(d.svc.stdin, d.svc.stdout, buf.GetBytes())
	if err != nil {
		d.stopLocked()
		return nil, err
	}

	d.touchLocked()
	return hands, nil
}

// Close stops the service if it is running.
func (d *MediaPipeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopLocked()
}

func (d *MediaPipeDetector) stopLocked() error {
	if d.idle != nil {
		d.idle.Stop()
		d.idle = nil
	}
	if d.svc == nil {
		return nil
	}
	err := d.svc.stop()
	d.svc = nil
	return err
}

// touchLocked restarts the idle countdown.
func (d *MediaPipeDetector) touchLocked() {
	if d.idle != nil {
		d.idle.Stop()
	}
	svc := d.svc
	d.idle = time.AfterFunc(d.config.IdleTimeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.svc != svc {
			return
		}
		log.Debug(log.Fields{"idle": d.config.IdleTimeout.String()}, "stopping idle mediapipe service")
		if err := d.stopLocked(); err != nil {
			log.Debug(log.Fields{"error": err.Error()}, "mediapipe service exited")
		}
	})
}

// service is one running MediaPipe process.
type service struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

func startService(python, script string, args []string) (*service, error) {
	cmd := exec.Command(python, append([]string{script}, args...)...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mediapipe stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mediapipe stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start mediapipe service: %w", err)
	}

	log.Info(log.Fields{"script": script, "python": python, "pid": cmd.Process.Pid}, "mediapipe service started")
	return &service{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}, nil
}

// stop closes stdin, which makes the service exit, and reaps it.
func (s *service) stop() error {
	s.stdin.Close()
	return s.cmd.Wait()
}

// exchange writes one length-prefixed frame to w and parses one reply line from r.
func exchange(w io.Writer, r *bufio.Reader, frame []byte) ([]HandLandmarks, error) {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(frame)))
	if _, err := w.Write(header[:]); err != nil {
		return nil, fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(frame); err != nil {
		return nil, fmt.Errorf("write frame: %w", err)
	}

	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}

	var reply struct {
		Hands []struct {
			Points     []Point3D `json:"points"`
			Handedness string    `json:"handedness"`
			Score      float64   `json:"score"`
		} `json:"hands"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(line, &reply); err != nil {
		return nil, fmt.Errorf("parse reply: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("mediapipe service: %s", reply.Error)
	}

	hands := make([]HandLandmarks, 0, len(reply.Hands))
	for _, h := range reply.Hands {
		hand, err := NewHandLandmarks(h.Points, h.Handedness, h.Score)
		if err != nil {
			log.Warn(log.Fields{"error": err.Error()}, "dropping malformed hand")
			continue
		}
		hands = append(hands, hand)
	}
	return hands, nil
}

// locate returns the absolute path of rel under the working directory,
// its parent, the executable's directory or ~/.palmreader, whichever
// exists first.
func locate(rel string) string {
	dirs := []string{".", ".."}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".palmreader"))
	}

	for _, dir := range dirs {
		p := filepath.Join(dir, rel)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			return abs
		}
		return p
	}
	return ""
}
