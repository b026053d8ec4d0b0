package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	coreforward "github.com/kilianp07/fleetbridge/core/forward"
	"github.com/kilianp07/fleetbridge/infra/logger"
)

// NATSConfig configures the NATS forwarder.
type NATSConfig struct {
	URL               string        `json:"url"`
	Username          string        `json:"username"`
	Password          string        `json:"password"`
	SubjectPrefix     string        `json:"subject_prefix"`
	ReconnectInterval time.Duration `json:"reconnect_interval"`
	MaxReconnects     int           `json:"max_reconnects"`
}

type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

var connectNATS = func(cfg NATSConfig, log logger.Logger) (natsConn, error) {
	return nats.Connect(cfg.URL,
		nats.Name("fleetbridge"),
		nats.UserInfo(cfg.Username, cfg.Password),
		nats.ReconnectWait(cfg.ReconnectInterval),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("nats reconnected to %s", nc.ConnectedUrl())
		}),
	)
}

// NATSForwarder publishes snapshots as JSON on <prefix>.<vin>.
type NATSForwarder struct {
	conn   natsConn
	prefix string
}

type natsMessage struct {
	VIN       string    `json:"vin"`
	Time      time.Time `json:"time"`
	SoC       float64   `json:"soc"`
	RangeKM   float64   `json:"range_km"`
	MileageKM float64   `json:"mileage_km"`
	Charging  bool      `json:"charging"`
	PowerKW   *float64  `json:"power_kw,omitempty"`
	PluggedIn *bool     `json:"plugged_in,omitempty"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Locked    bool      `json:"locked"`
}

// NewNATSForwarder connects to the NATS server.
func NewNATSForwarder(cfg NATSConfig) (*NATSForwarder, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "fleetbridge.vehicles"
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 2 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	conn, err := connectNATS(cfg, logger.New("nats-forwarder"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSForwarder{conn: conn, prefix: cfg.SubjectPrefix}, nil
}

func (f *NATSForwarder) Name() string { return "nats" }

func (f *NATSForwarder) Forward(_ context.Context, s coreforward.Snapshot) error {
	st := s.Status
	msg := natsMessage{
		VIN:       s.Vehicle.VIN,
		Time:      s.Time.UTC(),
		SoC:       st.SoC,
		RangeKM:   st.RangeKM,
		MileageKM: st.MileageKM,
		Charging:  st.Charging,
		Latitude:  st.Latitude,
		Longitude: st.Longitude,
		Locked:    st.Locked,
	}
	if cs := s.Charge; cs != nil {
		msg.PowerKW = &cs.PowerKW
		msg.PluggedIn = &cs.PluggedIn
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return f.conn.Publish(f.prefix+"."+s.Vehicle.VIN, data)
}

// Close drains pending messages and closes the connection.
func (f *NATSForwarder) Close() error {
	return f.conn.Drain()
}
