package store

import (
	"encoding/json"
	"fmt"

	"github.com/sweeney/smart-thermostat/internal/thermostat"
)

const kindThermostat = "thermostat"

// SaveThermostat stores the restorable state of the thermostat with the
// given unique id.
func (s *Store) SaveThermostat(id string, st thermostat.SavedState) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := s.Set(kindThermostat, id, payload); err != nil {
		return fmt.Errorf("save state %s: %w", id, err)
	}
	return nil
}

// LoadThermostat returns the saved state, or nil if there is none.
func (s *Store) LoadThermostat(id string) (*thermostat.SavedState, error) {
	payload, _, err := s.Get(kindThermostat, id)
	if err != nil {
		return nil, fmt.Errorf("load state %s: %w", id, err)
	}
	if payload == nil {
		return nil, nil
	}
	var st thermostat.SavedState
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", id, err)
	}
	return &st, nil
}
