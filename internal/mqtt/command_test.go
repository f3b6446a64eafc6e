package mqtt

import (
	"testing"

	"github.com/sweeney/smart-thermostat/internal/thermostat"
)

func TestSubscribeCommands(t *testing.T) {
	f := NewFakeClient()
	out := make(chan thermostat.Command, 2)
	topic := Topics{}.Command()
	if err := SubscribeCommands(f, topic, out); err != nil {
		t.Fatal(err)
	}

	f.Deliver(topic, []byte(`{"bogus":1}`))
	f.Deliver(topic, []byte(`{}`))
	f.Deliver(topic, []byte(`{"hvac_mode":"heat","target_temp":20.5}`))

	select {
	case cmd := <-out:
		if cmd.HVACMode == nil || *cmd.HVACMode != thermostat.HVACHeat {
			t.Errorf("hvac mode: %v", cmd.HVACMode)
		}
		if cmd.TargetTemp == nil || *cmd.TargetTemp != 20.5 {
			t.Errorf("target: %v", cmd.TargetTemp)
		}
	default:
		t.Fatal("expected a command")
	}
	if len(out) != 0 {
		t.Error("invalid commands should have been dropped")
	}
}

func TestSubscribeCommandsDropsWhenFull(t *testing.T) {
	f := NewFakeClient()
	out := make(chan thermostat.Command)
	if err := SubscribeCommands(f, "x/set", out); err != nil {
		t.Fatal(err)
	}
	// Unbuffered with no reader: delivery must not block.
	f.Deliver("x/set", []byte(`{"clear_integral":true}`))
}
