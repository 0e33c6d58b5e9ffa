package dispense

import "fmt"

// DefaultFlowRate is the aspirate and dispense rate multiplier used when a
// transfer does not set its own.
const DefaultFlowRate = 2.0

// TouchTipConfig controls the touch-tip performed after aspirating.
type TouchTipConfig struct {
	Disabled bool `json:"disabled"`
	// VOffset is the distance in mm from the top of the well, negative is
	// below the rim.
	VOffset float64 `json:"v_offset"`
	// Speed in mm/s.
	Speed float64 `json:"speed"`
}

// Config defines dispense-related settings.
type Config struct {
	FlowRate float64        `json:"flow_rate"`
	TouchTip TouchTipConfig `json:"touch_tip"`
	// FailOnMissingSolution turns missing-solution diagnostics into errors.
	FailOnMissingSolution bool `json:"fail_on_missing_solution"`
}

// SetDefaults applies the values used by the amphiphile protocols.
func (c *Config) SetDefaults() {
	if c.FlowRate == 0 {
		c.FlowRate = DefaultFlowRate
	}
	if c.TouchTip.Speed == 0 {
		c.TouchTip.Speed = 100
		if c.TouchTip.VOffset == 0 {
			c.TouchTip.VOffset = -2
		}
	}
}

// Validate checks the numeric ranges.
func (c Config) Validate() error {
	if c.FlowRate <= 0 {
		return fmt.Errorf("flow_rate must be positive, got %v", c.FlowRate)
	}
	if c.TouchTip.Speed <= 0 {
		return fmt.Errorf("touch_tip.speed must be positive, got %v", c.TouchTip.Speed)
	}
	return nil
}
