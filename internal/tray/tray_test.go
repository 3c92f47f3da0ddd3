package tray

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/ayusman/palmreader/internal/session"
)

func TestStatusTitle(t *testing.T) {
	tests := []struct {
		view session.View
		want string
	}{
		{session.View{State: session.StateIdle}, "Ready"},
		{session.View{State: session.StateDetecting}, "Show your open palm"},
		{session.View{State: session.StateCountdown, Countdown: 2}, "Capturing in 2..."},
		{session.View{State: session.StateSubmitting}, "Reading your palm..."},
		{session.View{State: session.StateError, Error: "Failed to access camera."}, "Failed to access camera."},
	}
	for _, tt := range tests {
		t.Run(string(tt.view.State), func(t *testing.T) {
			assert.Equal(t, tt.want, statusTitle(tt.view))
		})
	}
}

func TestLastTitle(t *testing.T) {
	_, ok := lastTitle(session.View{State: session.StateSubmitting, Prediction: "x"})
	assert.False(t, ok)

	_, ok = lastTitle(session.View{State: session.StateDone})
	assert.False(t, ok)

	got, ok := lastTitle(session.View{State: session.StateDone, Prediction: "A new journey begins"})
	assert.True(t, ok)
	assert.Equal(t, "Last: A new journey begins", got)

	long := strings.Repeat("é", 100)
	got, ok = lastTitle(session.View{State: session.StateDone, Prediction: long})
	assert.True(t, ok)
	assert.Equal(t, len("Last: ")+maxLastLen, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestBusy(t *testing.T) {
	assert.False(t, busy(session.StateIdle))
	assert.False(t, busy(session.StateDone))
	assert.False(t, busy(session.StateError))
	assert.True(t, busy(session.StateCountdown))
}

func TestUpdateBeforeReady(t *testing.T) {
	tr := New()
	tr.Update(session.View{State: session.StateDone, Prediction: "early"})

	tr.mu.RLock()
	defer tr.mu.RUnlock()
	if assert.NotNil(t, tr.pending) {
		assert.Equal(t, "early", tr.pending.Prediction)
	}
}

func TestUpdateIgnoresStaleViews(t *testing.T) {
	tr := New()
	tr.Update(session.View{State: session.StateAcquiring, Seq: 5})
	tr.Update(session.View{State: session.StateDone, Prediction: "old", Seq: 4})

	tr.mu.RLock()
	defer tr.mu.RUnlock()
	if assert.NotNil(t, tr.pending) {
		assert.Equal(t, session.StateAcquiring, tr.pending.State)
	}
	assert.Equal(t, uint64(5), tr.seq)
	assert.Empty(t, tr.last)
}

func TestShowLast(t *testing.T) {
	tr := New()
	assert.Equal(t, "Last: none", lastOrNone(tr.last))

	tr.ShowLast("")
	assert.Equal(t, "Last: none", lastOrNone(tr.last))

	tr.ShowLast("From history")
	assert.Equal(t, "Last: From history", lastOrNone(tr.last))

	tr.Update(session.View{State: session.StateDone, Prediction: "Fresh", Seq: 1})
	assert.Equal(t, "Last: Fresh", lastOrNone(tr.last))
}
