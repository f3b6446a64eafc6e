package mqtt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sweeney/smart-thermostat/internal/thermostat"
)

// DefaultValueKey is the JSON field holding the temperature in object payloads.
const DefaultValueKey = "temperature"

// SensorValue extracts the reading from a sensor payload. A payload is
// either a bare value ("21.5") or a JSON object holding the value under key.
// The value is returned unparsed; the thermostat drops what it cannot read.
func SensorValue(payload []byte, key string) string {
	p := bytes.TrimSpace(payload)
	if len(p) == 0 || p[0] != '{' {
		return string(p)
	}
	if key == "" {
		key = DefaultValueKey
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(p, &obj); err != nil {
		return string(p)
	}
	raw, ok := obj[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// SensorRouter turns messages on sensor topics into thermostat readings.
// The reading source is the topic itself.
type SensorRouter struct {
	ValueKey string
	Now      func() time.Time

	out chan<- thermostat.Reading
}

// NewSensorRouter sends readings to out.
func NewSensorRouter(out chan<- thermostat.Reading, valueKey string) *SensorRouter {
	return &SensorRouter{ValueKey: valueKey, Now: time.Now, out: out}
}

// Subscribe routes every topic in topics. Empty topics are skipped.
func (r *SensorRouter) Subscribe(sub Subscriber, topics ...string) error {
	for _, topic := range topics {
		if topic == "" {
			continue
		}
		if err := sub.Subscribe(topic, r.Handle); err != nil {
			return fmt.Errorf("subscribe sensor %s: %w", topic, err)
		}
	}
	return nil
}

// Handle forwards one message. It never blocks: a full channel drops the
// reading, the next one supersedes it.
func (r *SensorRouter) Handle(topic string, payload []byte) {
	reading := thermostat.Reading{
		Source: topic,
		Value:  SensorValue(payload, r.ValueKey),
		Time:   r.Now(),
	}
	select {
	case r.out <- reading:
	default:
		log.Warn().Str("topic", topic).Msg("reading channel full, dropping reading")
	}
}
