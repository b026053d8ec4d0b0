package metrics

// MultiSink fans events out to multiple sinks.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordPoll forwards the event to all sinks, returning the first error encountered.
func (m *MultiSink) RecordPoll(ev PollEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordPoll(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordCommand forwards command events.
func (m *MultiSink) RecordCommand(ev CommandEvent) error {
	for _, s := range m.Sinks {
		if err := RecordCommand(s, ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordRelogin forwards relogin events.
func (m *MultiSink) RecordRelogin(ev ReloginEvent) error {
	for _, s := range m.Sinks {
		if err := Relogins(s).RecordRelogin(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordInbox forwards inbox events.
func (m *MultiSink) RecordInbox(ev InboxEvent) error {
	for _, s := range m.Sinks {
		if err := RecordInbox(s, ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordFleetSize forwards fleet size metrics when supported by the sink.
func (m *MultiSink) RecordFleetSize(size int) error {
	for _, s := range m.Sinks {
		if err := RecordFleetSize(s, size); err != nil {
			return err
		}
	}
	return nil
}
