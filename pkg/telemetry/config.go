package telemetry

import (
	"flag"
	"os"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

// appID salts the machine ID so it is not leaked as is.
const appID = "piobridge"

// MachineID retrieves a stable ID of the machine. It falls back to the host
// name where no machine ID is available.
func MachineID() string {
	id, err := machineid.ProtectedID(appID)
	if err != nil {
		glog.Warningf("telemetry: machine id: %v", err)
		host, _ := os.Hostname()
		return host
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

// Config provides telemetry options.
type Config struct {
	// Source identifies this bridge, defaults to the machine ID.
	Source string
	// Interval is the publishing period.
	Interval time.Duration
	// MQTTBrokerURL specifies the MQTT broker to publish to, e.g.
	// mqtt://host:port/topic-prefix
	MQTTBrokerURL string
	// StreamAddr is the TCP address serving length-prefixed snapshots.
	StreamAddr string
	// WebsocketAddr is the HTTP address serving snapshots over websocket.
	WebsocketAddr string
}

var defaultConfig = Config{
	Interval: time.Second,
}

func init() {
	if val := os.Getenv("PIOBRIDGE_SOURCE"); val != "" {
		defaultConfig.Source = val
	}
	if val := os.Getenv("PIOBRIDGE_MQTT_URL"); val != "" {
		defaultConfig.MQTTBrokerURL = val
	}
	if val := os.Getenv("PIOBRIDGE_TELEMETRY_STREAM"); val != "" {
		defaultConfig.StreamAddr = val
	}
	if val := os.Getenv("PIOBRIDGE_TELEMETRY_WS"); val != "" {
		defaultConfig.WebsocketAddr = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Source, "source", defaultConfig.Source, "Telemetry source ID, defaults to the machine ID.")
	flag.DurationVar(&defaultConfig.Interval, "telemetry-interval", defaultConfig.Interval, "Telemetry publishing period.")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL.")
	flag.StringVar(&defaultConfig.StreamAddr, "telemetry-stream", defaultConfig.StreamAddr, "TCP address serving telemetry.")
	flag.StringVar(&defaultConfig.WebsocketAddr, "telemetry-ws", defaultConfig.WebsocketAddr, "HTTP address serving telemetry over websocket.")
}

// DefaultConfig gets the default config.
func DefaultConfig() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// SourceID returns Source or the machine ID.
func (c *Config) SourceID() string {
	if c.Source != "" {
		return c.Source
	}
	return MachineID()
}

// Enabled reports whether any sink is configured.
func (c *Config) Enabled() bool {
	return c.MQTTBrokerURL != "" || c.StreamAddr != "" || c.WebsocketAddr != ""
}
