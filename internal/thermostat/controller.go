package thermostat

import (
	"github.com/sweeney/smart-thermostat/internal/autotune"
	"github.com/sweeney/smart-thermostat/internal/pid"
)

// controller is either a PID loop or a running autotune, never both.
type controller interface {
	controller()
}

type pidLoop struct {
	pid *pid.Controller
}

type tuneLoop struct {
	tuner *autotune.Tuner
	rule  autotune.Rule
}

func (*pidLoop) controller() {}
func (*tuneLoop) controller() {}
