package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestMockCamera_Playback(t *testing.T) {
	frame1 := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame1.Close()
	frame2 := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame2.Close()

	cam := NewMockCamera([]*gocv.Mat{&frame1, &frame2}, false)

	require.NoError(t, cam.Open())
	defer cam.Close()

	for i := 0; i < 2; i++ {
		f, err := cam.ReadFrame()
		require.NoError(t, err)
		f.Close()
	}

	// Third read should fail (no loop)
	_, err := cam.ReadFrame()
	assert.Error(t, err)
}

func TestMockCamera_Loop(t *testing.T) {
	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	cam := NewMockCamera([]*gocv.Mat{&frame}, true)
	require.NoError(t, cam.Open())
	defer cam.Close()

	for i := 0; i < 5; i++ {
		f, err := cam.ReadFrame()
		require.NoError(t, err, "iteration %d", i)
		f.Close()
	}
}

func TestMockCamera_Counters(t *testing.T) {
	cam := NewMockCamera(nil, false)
	cam.FailOpen(ErrDevice)

	assert.ErrorIs(t, cam.Open(), ErrDevice)
	assert.False(t, cam.IsOpen())

	cam.Close()
	cam.Close()
	assert.Equal(t, 1, cam.Opens())
	assert.Equal(t, 2, cam.Closes())
}

func TestMockCamera_SetFPS(t *testing.T) {
	cam := NewMockCamera(nil, false)
	assert.Equal(t, DefaultFPS, cam.FPS())

	cam.SetFPS(30)
	assert.Equal(t, 30, cam.FPS())

	cam.SetFPS(0)
	assert.Equal(t, 30, cam.FPS())
}
