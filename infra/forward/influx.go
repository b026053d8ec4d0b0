// Package forward implements the telemetry forwarders.
package forward

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coreforward "github.com/kilianp07/fleetbridge/core/forward"
	"github.com/kilianp07/fleetbridge/infra/logger"
)

// InfluxConfig configures the InfluxDB forwarder.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxForwarder writes vehicle snapshots to an InfluxDB bucket.
type InfluxForwarder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxForwarder creates a forwarder for the given InfluxDB endpoint.
func NewInfluxForwarder(cfg InfluxConfig) *InfluxForwarder {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxForwarder{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-forwarder"),
	}
}

// NewInfluxForwarderWithFallback pings the InfluxDB instance and returns a
// disabled forwarder if the health check fails.
func NewInfluxForwarderWithFallback(cfg InfluxConfig) coreforward.Forwarder {
	f := NewInfluxForwarder(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := f.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			f.log.Errorf("influx health check error: %v", err)
		} else {
			f.log.Errorf("influx health status: %s", health.Status)
		}
		f.client.Close()
		return disabled{name: "influx"}
	}
	return f
}

func (f *InfluxForwarder) Name() string { return "influx" }

// Forward writes the status and, for electric vehicles, the charge state.
func (f *InfluxForwarder) Forward(ctx context.Context, s coreforward.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, p := range points(s) {
		if err := f.writeAPI.WritePoint(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func points(s coreforward.Snapshot) []*write.Point {
	st := s.Status
	status := write.NewPointWithMeasurement("vehicle_status").
		AddTag("vin", s.Vehicle.VIN)
	if s.Vehicle.Model != "" {
		status.AddTag("model", s.Vehicle.Model)
	}
	status = status.
		AddField("soc", round3(st.SoC)).
		AddField("range_km", round3(st.RangeKM)).
		AddField("mileage_km", round3(st.MileageKM)).
		AddField("running", st.EngineRunning).
		AddField("charging", st.Charging).
		AddField("locked", st.Locked).
		AddField("speed_kmh", round3(st.SpeedKMH)).
		AddField("latitude", st.Latitude).
		AddField("longitude", st.Longitude).
		SetTime(s.Time)
	out := []*write.Point{status}
	if cs := s.Charge; cs != nil {
		out = append(out, write.NewPointWithMeasurement("vehicle_charge").
			AddTag("vin", s.Vehicle.VIN).
			AddField("plugged_in", cs.PluggedIn).
			AddField("power_kw", round3(cs.PowerKW)).
			AddField("remaining_s", int64(cs.Remaining/time.Second)).
			AddField("target_soc", cs.TargetSoC).
			SetTime(s.Time))
	}
	return out
}

// Close releases the client.
func (f *InfluxForwarder) Close() error {
	f.client.Close()
	return nil
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

// disabled stands in for a forwarder whose backend was unreachable at startup.
type disabled struct{ name string }

func (d disabled) Name() string { return d.name + " (disabled)" }

func (disabled) Forward(context.Context, coreforward.Snapshot) error { return nil }
