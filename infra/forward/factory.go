package forward

import (
	coreforward "github.com/kilianp07/fleetbridge/core/forward"
	"github.com/kilianp07/fleetbridge/core/factory"
)

// init registers the built-in forwarders.
func init() {
	_ = coreforward.Register("influx", func(conf map[string]any) (coreforward.Forwarder, error) {
		var c InfluxConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewInfluxForwarderWithFallback(c), nil
	})

	_ = coreforward.Register("nats", func(conf map[string]any) (coreforward.Forwarder, error) {
		var c NATSConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		f, err := NewNATSForwarder(c)
		if err != nil {
			return nil, err
		}
		return f, nil
	})

	_ = coreforward.Register("abrp", func(conf map[string]any) (coreforward.Forwarder, error) {
		var c ABRPConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		f, err := NewABRPForwarder(c)
		if err != nil {
			return nil, err
		}
		return f, nil
	})
}
