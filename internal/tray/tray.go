// Package tray provides a system tray menu for the running recognizer.
package tray

import (
	"context"
	"fmt"
	"sync"

	"github.com/getlantern/systray"
	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/gesture"
)

// Controller is the part of the pipeline the tray drives.
type Controller interface {
	SetEnabled(enabled bool)
	Enabled() bool
	Subscribe() (<-chan gesture.Result, func())
}

// Tray represents the system tray application.
type Tray struct {
	ctrl    Controller
	logger  *zap.SugaredLogger
	onTrain func(ctx context.Context) error
	onQuit  func()
	mu      sync.RWMutex

	// Menu items stored for later updates
	menuToggle      *systray.MenuItem
	menuLastGesture *systray.MenuItem
	menuTrain       *systray.MenuItem

	last string
}

// New creates a Tray that toggles and follows ctrl.
func New(ctrl Controller, logger *zap.SugaredLogger) *Tray {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Tray{ctrl: ctrl, logger: logger}
}

// OnTrain sets the callback run when the train menu item is clicked.
func (t *Tray) OnTrain(fn func(ctx context.Context) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTrain = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application. It blocks until Quit is
// called or ctx is cancelled, and must run on the main goroutine.
func (t *Tray) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, systray.Quit)
	defer stop()
	systray.Run(func() { t.onReady(ctx) }, func() {})
}

// Quit removes the tray icon and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady(ctx context.Context) {
	systray.SetTitle("mudra")
	systray.SetTooltip("mudra gesture recognition")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.ctrl.Enabled()), "Toggle gesture recognition")
	systray.AddSeparator()
	t.menuLastGesture = systray.AddMenuItem(lastTitle(t.last), "Last recognized gesture")
	t.menuLastGesture.Disable()
	systray.AddSeparator()
	t.menuTrain = systray.AddMenuItem("Train model", "Retrain on the recorded dataset")
	systray.AddSeparator()
	menuQuit := systray.AddMenuItem("Quit", "Quit mudra")
	t.mu.Unlock()

	results, unsubscribe := t.ctrl.Subscribe()
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case res, ok := <-results:
				if !ok {
					return
				}
				t.SetLastGesture(res)
			case <-t.menuToggle.ClickedCh:
				t.toggle()
			case <-t.menuTrain.ClickedCh:
				go t.train(ctx)
			case <-menuQuit.ClickedCh:
				t.quit()
				return
			}
		}
	}()
}

// toggle flips the pipeline's enabled state and returns the new one.
func (t *Tray) toggle() bool {
	enabled := !t.ctrl.Enabled()
	t.ctrl.SetEnabled(enabled)

	t.mu.RLock()
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}
	t.mu.RUnlock()

	t.logger.Infow("recognition toggled", "enabled", enabled)
	return enabled
}

func (t *Tray) train(ctx context.Context) {
	t.mu.RLock()
	fn, item := t.onTrain, t.menuTrain
	t.mu.RUnlock()
	if fn == nil {
		return
	}

	if item != nil {
		item.Disable()
		item.SetTitle("Training...")
		defer func() {
			item.SetTitle("Train model")
			item.Enable()
		}()
	}
	if err := fn(ctx); err != nil {
		t.logger.Warnw("training from tray failed", "error", err)
	}
}

func (t *Tray) quit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
	systray.Quit()
}

// SetLastGesture records res and updates the menu. Unknown results are
// ignored so the entry keeps the last real gesture.
func (t *Tray) SetLastGesture(res gesture.Result) {
	if res.Label == gesture.Unknown {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = fmt.Sprintf("%s (%.0f%%)", res.Label, res.Confidence)
	if t.menuLastGesture != nil {
		t.menuLastGesture.SetTitle(lastTitle(t.last))
	}
}

// LastGesture returns the text shown for the last recognized gesture.
func (t *Tray) LastGesture() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Enabled"
	}
	return "○ Disabled"
}

func lastTitle(last string) string {
	if last == "" {
		return "Last: none"
	}
	return "Last: " + last
}
