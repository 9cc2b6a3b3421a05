package sampler

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Config is the numeric configuration of a scheduler, as stored in a
// pipeline's scheduler/scheduler_config.json. Keys without a typed field are
// kept verbatim in Extra so a round trip never loses settings. Fields whose
// zero value is a real setting are pointers: nil means absent.
type Config struct {
	ClassName         string    `json:"_class_name,omitempty"`
	NumTrainTimesteps int       `json:"num_train_timesteps,omitempty"`
	BetaStart         float64   `json:"beta_start,omitempty"`
	BetaEnd           float64   `json:"beta_end,omitempty"`
	BetaSchedule      string    `json:"beta_schedule,omitempty"`
	TrainedBetas      []float64 `json:"trained_betas,omitempty"`
	PredictionType    string    `json:"prediction_type,omitempty"`
	StepsOffset       *int      `json:"steps_offset,omitempty"`
	TimestepSpacing   string    `json:"timestep_spacing,omitempty"`
	ClipSample        *bool     `json:"clip_sample,omitempty"`
	SetAlphaToOne     *bool     `json:"set_alpha_to_one,omitempty"`
	SkipPRKSteps      *bool     `json:"skip_prk_steps,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// typedKeys lists the JSON keys owned by typed fields of Config.
var typedKeys = map[string]bool{
	"_class_name":         true,
	"num_train_timesteps": true,
	"beta_start":          true,
	"beta_end":            true,
	"beta_schedule":       true,
	"trained_betas":       true,
	"prediction_type":     true,
	"steps_offset":        true,
	"timestep_spacing":    true,
	"clip_sample":         true,
	"set_alpha_to_one":    true,
	"skip_prk_steps":      true,
}

func (c *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Config(p)
	c.Extra = nil
	for k, v := range raw {
		if typedKeys[k] {
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]json.RawMessage)
		}
		c.Extra[k] = v
	}
	return nil
}

func (c Config) MarshalJSON() ([]byte, error) {
	type plain Config
	b, err := json.Marshal(plain(c))
	if err != nil || len(c.Extra) == 0 {
		return b, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(b, &merged); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(c.Extra))
	for k := range c.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, owned := merged[k]; owned || typedKeys[k] {
			continue
		}
		merged[k] = c.Extra[k]
	}
	return json.Marshal(merged)
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	out := c
	if c.TrainedBetas != nil {
		out.TrainedBetas = append([]float64(nil), c.TrainedBetas...)
	}
	out.StepsOffset = clonePtr(c.StepsOffset)
	out.ClipSample = clonePtr(c.ClipSample)
	out.SetAlphaToOne = clonePtr(c.SetAlphaToOne)
	out.SkipPRKSteps = clonePtr(c.SkipPRKSteps)
	if c.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// setDefault stores v under key in Extra unless the key is already present.
func (c *Config) setDefault(key string, v any) {
	if _, ok := c.Extra[key]; ok {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if c.Extra == nil {
		c.Extra = make(map[string]json.RawMessage)
	}
	c.Extra[key] = b
}

// LoadConfig reads a scheduler_config.json file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}
