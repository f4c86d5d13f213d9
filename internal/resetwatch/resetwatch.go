// Package resetwatch implements the Factory-Reset Watcher of spec.md §4.10:
// a GPIO long-press handler that schedules a FactoryReset interrupt.
package resetwatch

import (
	"time"

	"github.com/internet-of-plants/iop-core/internal/hwfacade"
	"github.com/internet-of-plants/iop-core/internal/interrupt"
)

// HoldThreshold is the minimum press duration that counts as a factory
// reset request (spec.md §4.10: "≥ 15 s").
const HoldThreshold = 15 * time.Second

// Watcher hooks both edges of a GPIO pin and schedules FactoryReset when a
// press/release pair spans at least HoldThreshold.
type Watcher struct {
	facade hwfacade.Facade
	queue  *interrupt.Queue
	pin    int

	pressedAt time.Time
	pressed   bool
}

// New constructs a Watcher but does not arm it; call Arm to register the
// edge handlers.
func New(facade hwfacade.Facade, queue *interrupt.Queue, pin int) *Watcher {
	return &Watcher{facade: facade, queue: queue, pin: pin}
}

// Arm registers the rising/falling edge handlers on the configured pin.
// All work done inside the handlers is limited to an integer compare and a
// single Schedule call (spec.md §4.10: "all work done in the ISR is
// limited to integer compare and a single call to scheduleInterrupt").
func (w *Watcher) Arm() {
	w.facade.GpioMode(w.pin, hwfacade.ModeInputPullup)
	w.facade.GpioOnEdge(w.pin, hwfacade.RisingEdge, w.onPress)
	w.facade.GpioOnEdge(w.pin, hwfacade.FallingEdge, w.onRelease)
}

func (w *Watcher) onPress() {
	w.pressedAt = w.facade.Now()
	w.pressed = true
}

func (w *Watcher) onRelease() {
	if !w.pressed {
		return
	}
	w.pressed = false

	held := w.facade.Now().Sub(w.pressedAt)
	if held < HoldThreshold {
		return
	}

	// Schedule acquires the interrupt lock itself; locking around it here
	// too would deadlock against a non-reentrant facade mutex.
	w.queue.Schedule(interrupt.FactoryReset)
}
