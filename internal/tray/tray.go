// Package tray provides the system tray menu for the palm reader.
package tray

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/getlantern/systray"

	"github.com/ayusman/palmreader/internal/session"
)

// maxLastLen caps the prediction shown in the menu.
const maxLastLen = 40

// Tray represents the system tray application.
type Tray struct {
	onRead   func()
	onViewer func()
	onQuit   func()
	mu       sync.RWMutex

	// Menu items stored for later updates
	menuRead   *systray.MenuItem
	menuStatus *systray.MenuItem
	menuLast   *systray.MenuItem

	// view received before the menu existed
	pending *session.View
	seq     uint64
	last    string
}

// New creates a new Tray instance.
func New() *Tray {
	return &Tray{}
}

// OnRead sets the callback for the "Read My Palm" item.
func (t *Tray) OnRead(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRead = fn
}

// OnOpenViewer sets the callback for the "Open Viewer..." item.
func (t *Tray) OnOpenViewer(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onViewer = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit removes the tray icon and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Palm Reader")
	systray.SetTooltip("Palm Reader")

	t.mu.Lock()
	t.menuRead = systray.AddMenuItem("Read My Palm", "Start a palm reading")
	t.menuStatus = systray.AddMenuItem(statusTitle(session.View{State: session.StateIdle}), "Current reading state")
	t.menuStatus.Disable()
	systray.AddSeparator()

	t.menuLast = systray.AddMenuItem(lastOrNone(t.last), "Last prediction")
	t.menuLast.Disable()
	systray.AddSeparator()

	menuViewer := systray.AddMenuItem("Open Viewer...", "Open the viewer in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Palm Reader")
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	if pending != nil {
		t.Update(*pending)
	}

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuRead.ClickedCh:
				t.call(func() func() { return t.onRead })
			case <-menuViewer.ClickedCh:
				t.call(func() func() { return t.onViewer })
			case <-menuQuit.ClickedCh:
				t.call(func() func() { return t.onQuit })
				systray.Quit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// call runs the callback chosen by get outside the lock.
func (t *Tray) call(get func() func()) {
	t.mu.RLock()
	callback := get()
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// ShowLast sets the "Last:" line, typically from the reading history at
// startup.
func (t *Tray) ShowLast(prediction string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	title, ok := lastTitle(session.View{State: session.StateDone, Prediction: prediction})
	if !ok {
		return
	}
	t.last = title
	if t.menuLast != nil {
		t.menuLast.SetTitle(title)
	}
}

// Update reflects v in the menu. It is a session.Observer. Views older
// than one already shown are ignored.
func (t *Tray) Update(v session.View) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !v.Newer(t.seq) {
		return
	}
	t.seq = v.Seq

	if last, ok := lastTitle(v); ok {
		t.last = last
	}
	if t.menuStatus == nil {
		t.pending = &v
		return
	}

	t.menuStatus.SetTitle(statusTitle(v))
	if busy(v.State) {
		t.menuRead.Disable()
	} else {
		t.menuRead.Enable()
	}
	if last, ok := lastTitle(v); ok {
		t.menuLast.SetTitle(last)
	}
}

func lastOrNone(title string) string {
	if title == "" {
		return "Last: none"
	}
	return title
}

func busy(s session.State) bool {
	return s != session.StateIdle && !s.Terminal()
}

// statusTitle renders the status line for v.
func statusTitle(v session.View) string {
	switch v.State {
	case session.StateIdle:
		return "Ready"
	case session.StateAcquiring:
		return "Starting camera..."
	case session.StateDetecting:
		return "Show your open palm"
	case session.StateWaiting:
		return "Hold your palm still"
	case session.StateCountdown:
		return fmt.Sprintf("Capturing in %d...", v.Countdown)
	case session.StateCapturing, session.StateSubmitting:
		return "Reading your palm..."
	case session.StateDone:
		return "Done"
	case session.StateError:
		return v.Error
	default:
		return string(v.State)
	}
}

// lastTitle renders the "Last:" line. ok is false when v carries no new prediction.
func lastTitle(v session.View) (string, bool) {
	if v.State != session.StateDone || v.Prediction == "" {
		return "", false
	}
	text := v.Prediction
	if utf8.RuneCountInString(text) > maxLastLen {
		runes := []rune(text)
		text = string(runes[:maxLastLen-3]) + "..."
	}
	return "Last: " + text, true
}
