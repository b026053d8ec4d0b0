package metrics

import "testing"

type recordSink struct {
	count int
}

func (r *recordSink) RecordPoll(PollEvent) error {
	r.count++
	return nil
}

func (r *recordSink) RecordCommand(CommandEvent) error {
	r.count++
	return nil
}

// pollOnly does not record commands.
type pollOnly struct {
	polls int
}

func (p *pollOnly) RecordPoll(PollEvent) error {
	p.polls++
	return nil
}

func TestMultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	p := &pollOnly{}
	m := NewMultiSink(s1, s2, p)
	if err := m.RecordPoll(PollEvent{VIN: "VIN1", Outcome: OutcomeSuccess}); err != nil {
		t.Fatalf("record poll: %v", err)
	}
	if err := m.RecordCommand(CommandEvent{VIN: "VIN1", Command: "doors/locked"}); err != nil {
		t.Fatalf("record command: %v", err)
	}
	if err := m.RecordRelogin(ReloginEvent{Success: true}); err != nil {
		t.Fatalf("record relogin: %v", err)
	}
	if s1.count != 2 || s2.count != 2 {
		t.Fatalf("events not forwarded")
	}
	if p.polls != 1 {
		t.Fatalf("poll not forwarded to poll-only sink")
	}
}
