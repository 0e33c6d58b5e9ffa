package dispense

import (
	"fmt"
	"strings"
)

// Strategy selects how a plan is executed once a tip is attached.
type Strategy int

const (
	// StrategyManual aspirates the plan total once and dispenses well by well.
	StrategyManual Strategy = iota
	// StrategyTransfer hands the whole plan to the pipette's bulk transfer
	// primitive with tip replacement disabled.
	StrategyTransfer
)

func (s Strategy) String() string {
	switch s {
	case StrategyManual:
		return "manual"
	case StrategyTransfer:
		return "transfer"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy converts a configuration value into a Strategy. An empty
// value selects StrategyManual.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "manual":
		return StrategyManual, nil
	case "transfer", "bulk":
		return StrategyTransfer, nil
	default:
		return 0, fmt.Errorf("unknown dispense strategy %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(b []byte) error {
	v, err := ParseStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
