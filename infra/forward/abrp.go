package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	coreforward "github.com/kilianp07/fleetbridge/core/forward"
)

const defaultABRPURL = "https://api.iternio.com/1/tlm/send"

// ABRPConfig configures the A Better Routeplanner telemetry forwarder.
type ABRPConfig struct {
	URL    string `json:"url"`
	APIKey string `json:"api_key"`
	// Tokens maps a VIN to the user token of its ABRP account. Vehicles
	// without a token are not forwarded.
	Tokens map[string]string `json:"tokens"`
}

// ABRPForwarder sends live telemetry to ABRP.
type ABRPForwarder struct {
	client *http.Client
	url    string
	apiKey string
	tokens map[string]string
}

type abrpTelemetry struct {
	UTC        int64    `json:"utc"`
	SoC        float64  `json:"soc"`
	Speed      float64  `json:"speed"`
	Lat        float64  `json:"lat"`
	Lon        float64  `json:"lon"`
	IsCharging bool     `json:"is_charging"`
	IsParked   bool     `json:"is_parked"`
	Power      *float64 `json:"power,omitempty"`
	Odometer   float64  `json:"odometer,omitempty"`
	EstRange   float64  `json:"est_battery_range,omitempty"`
	ExtTemp    float64  `json:"ext_temp,omitempty"`
}

// NewABRPForwarder validates cfg and returns a forwarder.
func NewABRPForwarder(cfg ABRPConfig) (*ABRPForwarder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("abrp: api_key is required")
	}
	if cfg.URL == "" {
		cfg.URL = defaultABRPURL
	}
	return &ABRPForwarder{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		tokens: cfg.Tokens,
	}, nil
}

func (f *ABRPForwarder) Name() string { return "abrp" }

func (f *ABRPForwarder) Forward(ctx context.Context, s coreforward.Snapshot) error {
	token, ok := f.tokens[s.Vehicle.VIN]
	if !ok {
		return nil
	}
	st := s.Status
	tlm := abrpTelemetry{
		UTC:        s.Time.Unix(),
		SoC:        st.SoC,
		Speed:      st.SpeedKMH,
		Lat:        st.Latitude,
		Lon:        st.Longitude,
		IsCharging: st.Charging,
		IsParked:   !st.EngineRunning,
		Odometer:   st.MileageKM,
		EstRange:   st.RangeKM,
		ExtTemp:    st.ExteriorTempC,
	}
	if cs := s.Charge; cs != nil {
		// ABRP expects negative power while charging
		p := -cs.PowerKW
		tlm.Power = &p
	}
	body, err := json.Marshal(map[string]any{"tlm": tlm})
	if err != nil {
		return err
	}

	q := url.Values{}
	q.Set("api_key", f.apiKey)
	q.Set("token", token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url+"?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, msg)
	}
	return nil
}
