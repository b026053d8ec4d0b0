package mqtt

import (
	"fmt"
	"testing"
	"time"

	coremon "github.com/kilianp07/fleetbridge/core/monitoring"
)

type recordMonitor struct {
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.err = err
	r.tags = tags
}
func (r *recordMonitor) Flush(time.Duration) {}

func TestPublishErrorCaptured(t *testing.T) {
	mc := &mockClient{}
	cli := newTestClient(t, mc, Config{ClientID: "id", TopicPrefix: "fb", MaxRetries: 1, BackoffMS: 1})
	mc.publishErrs = []error{fmt.Errorf("net fail"), fmt.Errorf("net fail")}
	mon := &recordMonitor{}
	prev := coremon.Init(mon)
	defer coremon.Init(prev)

	if err := cli.Publish("vehicles/VIN1/drivetrain/soc", 50.0); err == nil {
		t.Fatalf("expected error")
	}
	if mon.err == nil {
		t.Fatalf("error not captured")
	}
	if mon.tags["topic"] != "fb/vehicles/VIN1/drivetrain/soc" || mon.tags["module"] != "mqtt" {
		t.Fatalf("tags not set: %v", mon.tags)
	}
}
