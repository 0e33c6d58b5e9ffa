// Package factory instantiates pluggable modules (robot drivers, metrics
// sinks) from configuration. A module is described by a type string and a
// map of raw settings; each registered factory decodes the settings into its
// own struct and returns the concrete implementation.
//
//	reg := factory.NewRegistry[robot.Robot]()
//	_ = reg.Register("simulator", func(conf map[string]any) (robot.Robot, error) {
//	    var c simulator.Config
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return simulator.New(c), nil
//	})
//	r, err := reg.Create(factory.ModuleConfig{Type: "simulator"})
package factory
