package mqtt

import (
	"github.com/rs/zerolog/log"

	"github.com/sweeney/smart-thermostat/internal/thermostat"
)

// SubscribeCommands decodes JSON commands on topic and forwards them to out.
// Invalid payloads are logged and dropped.
func SubscribeCommands(sub Subscriber, topic string, out chan<- thermostat.Command) error {
	return sub.Subscribe(topic, func(topic string, payload []byte) {
		cmd, err := thermostat.DecodeCommand(payload)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("ignoring command")
			return
		}
		select {
		case out <- cmd:
		default:
			log.Warn().Str("topic", topic).Msg("command channel full, dropping command")
		}
	})
}
