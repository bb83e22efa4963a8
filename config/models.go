package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/c12/router/contracts"
)

// modelFile is the TOML shape of a model descriptor file.
//
//	[[models]]
//	id = "tinyllama"
//	backend_name = "tinyllama:1.1b"
//	pinned = true
//	avg_load_time_sec = 5
//	max_length = 2048
//	energy_kwh_per_1k_tokens = 0.001
//	min_free_mem_mb = 512
type modelFile struct {
	Models []modelEntry `toml:"models"`
}

type modelEntry struct {
	ID             string  `toml:"id"`
	BackendName    string  `toml:"backend_name"`
	Pinned         bool    `toml:"pinned"`
	AvgLoadTimeSec int     `toml:"avg_load_time_sec"`
	MaxLength      int     `toml:"max_length"`
	EnergyKWhPer1K float64 `toml:"energy_kwh_per_1k_tokens"`
	MinFreeMemMB   int64   `toml:"min_free_mem_mb"`
}

// LoadModels reads model descriptors from a TOML file, or returns the
// built-in set when path is empty. Registry-level invariants (unique ids,
// exactly one pinned model) are enforced by the cache, not here.
func LoadModels(path string) ([]contracts.ModelDescriptor, error) {
	if path == "" {
		return contracts.DefaultModels(), nil
	}

	var mf modelFile
	if _, err := toml.DecodeFile(path, &mf); err != nil {
		return nil, fmt.Errorf("failed to parse model file %s: %w", path, err)
	}
	if len(mf.Models) == 0 {
		return nil, fmt.Errorf("model file %s defines no models", path)
	}

	models := make([]contracts.ModelDescriptor, len(mf.Models))
	for i, m := range mf.Models {
		if m.ID == "" {
			return nil, fmt.Errorf("model %d in %s is missing an id", i, path)
		}
		if m.MaxLength <= 0 {
			return nil, fmt.Errorf("model %s in %s needs a positive max_length", m.ID, path)
		}
		backendName := m.BackendName
		if backendName == "" {
			backendName = m.ID
		}
		models[i] = contracts.ModelDescriptor{
			ID:             m.ID,
			BackendName:    backendName,
			Pinned:         m.Pinned,
			AvgLoadTime:    time.Duration(m.AvgLoadTimeSec) * time.Second,
			MaxLength:      m.MaxLength,
			EnergyKWhPer1K: m.EnergyKWhPer1K,
			MinFreeMemMB:   m.MinFreeMemMB,
		}
	}
	return models, nil
}
