package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/fleetbridge/core/bus"
	"github.com/kilianp07/fleetbridge/core/monitoring"
	"github.com/kilianp07/fleetbridge/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
	// TopicPrefix is the root of every topic published or subscribed.
	TopicPrefix string          `json:"topic_prefix"`
	UseTLS      bool            `json:"use_tls"`
	ClientCert  string          `json:"client_cert"`
	ClientKey   string          `json:"client_key"`
	CABundle    string          `json:"ca_bundle"`
	AuthMethod  string          `json:"auth_method"`
	QoS         map[string]byte `json:"qos"`
	MaxRetries  int             `json:"max_retries"`
	BackoffMS   int             `json:"backoff_ms"`
	TLSConfig   *tls.Config     `json:"-"`
	// Passive clients neither announce availability nor receive commands.
	// The command line tool uses one to talk to a running gateway.
	Passive bool `json:"-"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "fleetbridge"
	}
	if c.ClientID == "" {
		c.ClientID = "fleetbridge-" + uuid.NewString()[:8]
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqtt: broker is required")
	}
	if strings.ContainsAny(c.TopicPrefix, "+#") {
		return fmt.Errorf("mqtt: topic_prefix must not contain wildcards")
	}
	return nil
}

// CommandFunc receives a command published on a vehicle set topic.
type CommandFunc func(vin, command, payload string)

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// PahoClient publishes gateway state and receives commands over MQTT.
type PahoClient struct {
	cli        pahoClient
	passive    bool
	prefix     string
	qos        map[string]byte
	logger     logger.Logger
	maxRetries int
	backoff    time.Duration

	mu        sync.RWMutex
	onCommand CommandFunc
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewPahoClient connects to the broker. On every (re)connect the client
// announces itself online and subscribes to the vehicle command topics.
func NewPahoClient(cfg Config) (*PahoClient, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_client")
	pc := &PahoClient{
		passive:    cfg.Passive,
		prefix:     strings.Trim(cfg.TopicPrefix, "/"),
		qos:        cfg.QoS,
		logger:     log,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if cfg.Passive {
			return
		}
		if token := c.Publish(pc.topic(bus.TopicAvailable), pc.qosFor("state"), true, bus.Online); token.Wait() && token.Error() != nil {
			log.Errorf("publish availability: %v", token.Error())
		}
		if token := c.Subscribe(pc.commandFilter(), pc.qosFor("command"), pc.onMessage); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	pc.cli = c
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return pc, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	// command handlers publish results from within the callback
	opts.SetOrderMatters(false)
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if !cfg.Passive {
		opts.SetWill(bus.Join(cfg.TopicPrefix, bus.TopicAvailable), bus.Offline, 1, true)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func (p *PahoClient) qosFor(kind string) byte {
	if q, ok := p.qos[kind]; ok {
		return q
	}
	return 0
}

func (p *PahoClient) topic(t string) string { return bus.Join(p.prefix, t) }

func (p *PahoClient) commandFilter() string {
	return bus.Join(p.prefix, "vehicles", "+", "#")
}

// HandleCommands registers fn for inbound commands.
func (p *PahoClient) HandleCommands(fn CommandFunc) {
	p.mu.Lock()
	p.onCommand = fn
	p.mu.Unlock()
}

func (p *PahoClient) onMessage(_ paho.Client, msg paho.Message) {
	vin, command, ok := ParseCommandTopic(p.prefix, msg.Topic())
	if !ok {
		return
	}
	p.mu.RLock()
	fn := p.onCommand
	p.mu.RUnlock()
	if fn == nil {
		p.logger.Warnf("command %s for %s received before handlers were registered", command, vin)
		return
	}
	p.logger.Debugf("command %s for %s", command, vin)
	fn(vin, command, string(msg.Payload()))
}

// ParseCommandTopic extracts the vehicle and command from
// <prefix>/vehicles/<vin>/<command>/set.
func ParseCommandTopic(prefix, topic string) (vin, command string, ok bool) {
	rest, found := strings.CutPrefix(topic, bus.Join(prefix, "vehicles")+"/")
	if !found {
		return "", "", false
	}
	rest, found = strings.CutSuffix(rest, "/"+bus.SetSuffix)
	if !found {
		return "", "", false
	}
	vin, command, found = strings.Cut(rest, "/")
	if !found || vin == "" || command == "" {
		return "", "", false
	}
	return vin, command, true
}

// Publish sends value to topic below the prefix. State is retained, command
// results are not.
func (p *PahoClient) Publish(topic string, value any) error {
	payload, err := bus.Format(value)
	if err != nil {
		return fmt.Errorf("format %s: %w", topic, err)
	}
	if !p.cli.IsConnected() {
		return bus.ErrNotConnected
	}
	full := p.topic(topic)
	retained := !strings.HasSuffix(topic, "/"+bus.ResultSuffix)
	qos := p.qosFor("state")

	var publishErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		token := p.cli.Publish(full, qos, retained, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			return nil
		}
		p.logger.Errorf("publish %s attempt %d failed: %v", full, attempt+1, publishErr)
		if attempt < p.maxRetries {
			time.Sleep(p.backoff * time.Duration(1<<attempt))
		}
	}
	monitoring.CaptureException(publishErr, map[string]string{"topic": full, "module": "mqtt"})
	return publishErr
}

// Request publishes a command to a vehicle and waits for its result.
func (p *PahoClient) Request(ctx context.Context, vin, command, payload string) (string, error) {
	base := bus.Join(p.prefix, bus.VehiclePrefix(vin), command)
	results := make(chan string, 1)
	resultTopic := bus.Join(base, bus.ResultSuffix)
	token := p.cli.Subscribe(resultTopic, p.qosFor("command"), func(_ paho.Client, m paho.Message) {
		select {
		case results <- string(m.Payload()):
		default:
		}
	})
	if token.Wait() && token.Error() != nil {
		return "", fmt.Errorf("subscribe %s: %w", resultTopic, token.Error())
	}
	if token := p.cli.Publish(bus.Join(base, bus.SetSuffix), p.qosFor("command"), false, payload); token.Wait() && token.Error() != nil {
		return "", fmt.Errorf("publish command: %w", token.Error())
	}
	select {
	case r := <-results:
		return r, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// IsConnected reports whether the broker connection is up.
func (p *PahoClient) IsConnected() bool { return p.cli != nil && p.cli.IsConnected() }

// Disconnect announces the gateway offline and closes the connection.
func (p *PahoClient) Disconnect() {
	if p.cli == nil || !p.cli.IsConnected() {
		return
	}
	if !p.passive {
		token := p.cli.Publish(p.topic(bus.TopicAvailable), p.qosFor("state"), true, bus.Offline)
		token.WaitTimeout(time.Second)
	}
	p.cli.Disconnect(250)
}
