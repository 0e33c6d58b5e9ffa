package robot

import "github.com/kilianp07/dispense/core/factory"

var driverRegistry = factory.NewRegistry[Robot]()

// RegisterDriver adds a robot driver factory identified by name.
func RegisterDriver(name string, f factory.Factory[Robot]) error {
	return driverRegistry.Register(name, f)
}

// NewRobot creates the driver described by cfg. An empty type selects the
// simulator.
func NewRobot(cfg factory.ModuleConfig) (Robot, error) {
	if cfg.Type == "" {
		cfg.Type = "simulator"
	}
	return driverRegistry.Create(cfg)
}
