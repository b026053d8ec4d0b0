// Package factory instantiates pluggable modules, such as telemetry
// forwarders and metrics sinks, from configuration. A module is selected by
// its type name and receives its raw settings, which it decodes with Decode.
//
// Adapters register themselves from init:
//
//	func init() {
//		_ = forward.Register("nats", func(conf map[string]any) (forward.Forwarder, error) {
//			var c NATSConfig
//			if err := factory.Decode(conf, &c); err != nil {
//				return nil, err
//			}
//			return NewNATSForwarder(c)
//		})
//	}
package factory
