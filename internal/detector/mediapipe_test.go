package detector

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// fakeServiceEnv makes the test binary act as the MediaPipe service.
// Its value selects the behavior: "ok" answers with an open palm, "fail"
// answers every frame with an error.
const fakeServiceEnv = "PALMREADER_FAKE_MEDIAPIPE"

func TestMain(m *testing.M) {
	if mode := os.Getenv(fakeServiceEnv); mode != "" {
		os.Exit(fakeService(mode, os.Args[1:], os.Stdin, os.Stdout))
	}
	os.Exit(m.Run())
}

// fakeService speaks the service protocol: length-prefixed JPEG frames
// in, one JSON line out per frame, exit on EOF.
func fakeService(mode string, args []string, in io.Reader, out io.Writer) int {
	enc := json.NewEncoder(out)
	type hand struct {
		Points     []Point3D `json:"points"`
		Handedness string    `json:"handedness"`
		Score      float64   `json:"score"`
	}
	type reply struct {
		Hands []hand `json:"hands"`
		Error string `json:"error,omitempty"`
	}

	hasFlag := false
	for _, a := range args {
		if a == "--max-hands" {
			hasFlag = true
		}
	}

	for {
		var header [4]byte
		if _, err := io.ReadFull(in, header[:]); err != nil {
			return 0
		}
		frame := make([]byte, binary.BigEndian.Uint32(header[:]))
		if _, err := io.ReadFull(in, frame); err != nil {
			return 0
		}

		switch {
		case mode == "fail":
			enc.Encode(reply{Error: "model crashed"})
		case !hasFlag:
			enc.Encode(reply{Error: "missing --max-hands"})
		case !bytes.HasPrefix(frame, []byte{0xFF, 0xD8}):
			enc.Encode(reply{Error: "frame is not a jpeg"})
		default:
			palm := OpenPalmLandmarks()
			enc.Encode(reply{Hands: []hand{{Points: palm.Points[:], Handedness: palm.Handedness, Score: palm.Score}}})
		}
	}
}

func newFakeDetector(t *testing.T, mode string, idle time.Duration) *MediaPipeDetector {
	t.Helper()
	t.Setenv(fakeServiceEnv, mode)

	script := filepath.Join(t.TempDir(), scriptName)
	require.NoError(t, os.WriteFile(script, nil, 0644))

	cfg := DefaultConfig()
	cfg.ScriptPath = script
	cfg.Python = os.Args[0]
	cfg.IdleTimeout = idle

	d, err := NewMediaPipeDetector(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func testFrame(t *testing.T) *gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return &m
}

func (d *MediaPipeDetector) pid() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.svc == nil {
		return 0
	}
	return d.svc.cmd.Process.Pid
}

func TestMediaPipeDetector_ServiceProcess(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping subprocess test in short mode")
	}

	t.Run("round trip and reuse", func(t *testing.T) {
		d := newFakeDetector(t, "ok", time.Minute)
		frame := testFrame(t)

		hands, err := d.Detect(frame)
		require.NoError(t, err)
		require.Len(t, hands, 1)
		assert.Equal(t, OpenPalmLandmarks(), hands[0])

		pid := d.pid()
		require.NotZero(t, pid)

		_, err = d.Detect(frame)
		require.NoError(t, err)
		assert.Equal(t, pid, d.pid(), "second frame uses the same process")

		require.NoError(t, d.Close())
		assert.Zero(t, d.pid())

		_, err = d.Detect(frame)
		require.NoError(t, err)
		assert.NotEqual(t, pid, d.pid(), "restarted after close")
	})

	t.Run("empty frame does not start the service", func(t *testing.T) {
		d := newFakeDetector(t, "ok", time.Minute)
		empty := gocv.NewMat()
		defer empty.Close()

		hands, err := d.Detect(&empty)
		require.NoError(t, err)
		assert.Nil(t, hands)
		assert.Zero(t, d.pid())
	})

	t.Run("service error stops the process", func(t *testing.T) {
		d := newFakeDetector(t, "fail", time.Minute)

		_, err := d.Detect(testFrame(t))
		assert.ErrorContains(t, err, "model crashed")
		assert.Zero(t, d.pid())
	})

	t.Run("idle service is stopped", func(t *testing.T) {
		d := newFakeDetector(t, "ok", 20*time.Millisecond)

		_, err := d.Detect(testFrame(t))
		require.NoError(t, err)
		require.Eventually(t, func() bool { return d.pid() == 0 }, 2*time.Second, 5*time.Millisecond)
	})
}

func TestServiceScriptShipped(t *testing.T) {
	script := filepath.Join("..", "..", "scripts", scriptName)
	data, err := os.ReadFile(script)
	require.NoError(t, err)

	for _, flag := range DefaultConfig().args() {
		if len(flag) > 2 && flag[:2] == "--" {
			assert.Contains(t, string(data), `"`+flag+`"`, "script accepts %s", flag)
		}
	}
	assert.Contains(t, string(data), `struct.unpack(">I"`)
}
