package config

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/thatsimonsguy/uf-controller/internal/model"
)

const (
	DriverSim     = "sim"
	DriverPinctrl = "pinctrl"
	DriverRPIO    = "rpio"
)

// Channel maps a logical channel id to a BCM pin.
type Channel struct {
	Pin   *int   `yaml:"pin"`
	Label string `yaml:"label"`
}

type GPIO struct {
	Driver string `yaml:"driver"`
	// relay boards on the plant are active-low: driving the pin low energizes the relay
	ActiveHigh bool            `yaml:"active_high"`
	Channels   map[int]Channel `yaml:"channels"`
}

type API struct {
	Listen string `yaml:"listen"`
}

type Journal struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type MQTT struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

type Datadog struct {
	Enabled   bool     `yaml:"enabled"`
	AgentAddr string   `yaml:"agent_addr"`
	Namespace string   `yaml:"namespace"`
	Tags      []string `yaml:"tags"`
}

type Ntfy struct {
	Topic string `yaml:"topic"`
}

// Failsafe periodically compares commanded relay state with pin readback.
type Failsafe struct {
	Enabled             bool `yaml:"enabled"`
	PollIntervalSeconds int  `yaml:"poll_interval_seconds"`
	// consecutive mismatching polls before the plant is emergency stopped
	TripAfter int `yaml:"trip_after"`
}

// System holds the paths used when installing the boot script and units.
type System struct {
	BootScriptPath     string `yaml:"boot_script_path"`
	StartupServicePath string `yaml:"startup_service_path"`
	MainServicePath    string `yaml:"main_service_path"`
	ServiceUser        string `yaml:"service_user"`
	WorkDir            string `yaml:"work_dir"`
	ExecStart          string `yaml:"exec_start"`
}

type Config struct {
	ConfigFile string        `yaml:"-"`
	LogLevel   zerolog.Level `yaml:"-"`

	LogLevelName string `yaml:"log_level"`
	LogFile      string `yaml:"log_file"`
	SafeMode     bool   `yaml:"safe_mode"`
	TimingsFile  string `yaml:"timings_file"`

	GPIO     GPIO     `yaml:"gpio"`
	API      API      `yaml:"api"`
	Journal  Journal  `yaml:"journal"`
	MQTT     MQTT     `yaml:"mqtt"`
	Datadog  Datadog  `yaml:"datadog"`
	Ntfy     Ntfy     `yaml:"ntfy"`
	Failsafe Failsafe `yaml:"failsafe"`
	System   System   `yaml:"system"`
}

// defaultPins is the stock panel wiring: valves 1-5, pumps 6-7.
var defaultPins = map[int]int{
	1: 27,
	2: 3,
	3: 22,
	4: 18,
	5: 23,
	6: 24,
	7: 25,
}

func Load() Config {
	var configFile, logLevel string

	flag.StringVar(&configFile, "config-file", "config.yaml", "Path to controller config file")
	flag.StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	flag.Parse()

	data, err := os.ReadFile(configFile)
	if err != nil {
		panic("Failed to load config file: " + err.Error())
	}

	cfg, err := Parse(data)
	if err != nil {
		panic("Failed to parse config file: " + err.Error())
	}
	cfg.ConfigFile = configFile

	if logLevel != "" {
		cfg.LogLevelName = logLevel
		cfg.LogLevel = ParseLogLevel(logLevel)
	}
	return cfg
}

// Parse decodes a YAML config, fills defaults and validates the result.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.LogLevelName == "" {
		cfg.LogLevelName = "info"
	}
	cfg.LogLevel = ParseLogLevel(cfg.LogLevelName)

	if cfg.TimingsFile == "" {
		cfg.TimingsFile = "data/timings.json"
	}
	if cfg.GPIO.Driver == "" {
		cfg.GPIO.Driver = DriverPinctrl
	}
	if len(cfg.GPIO.Channels) == 0 {
		cfg.GPIO.Channels = make(map[int]Channel, len(defaultPins))
		for id, pin := range defaultPins {
			p := pin
			cfg.GPIO.Channels[id] = Channel{Pin: &p}
		}
	}
	for id, ch := range cfg.GPIO.Channels {
		if ch.Label == "" {
			ch.Label = DefaultLabel(id)
			cfg.GPIO.Channels[id] = ch
		}
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = "0.0.0.0:8080"
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = "data/uf.db"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "uf-controller"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "uf"
	}
	if cfg.Datadog.AgentAddr == "" {
		cfg.Datadog.AgentAddr = "127.0.0.1:8125"
	}
	if cfg.Datadog.Namespace == "" {
		cfg.Datadog.Namespace = "uf."
	}
	if cfg.Failsafe.PollIntervalSeconds == 0 {
		cfg.Failsafe.PollIntervalSeconds = 30
	}
	if cfg.Failsafe.TripAfter == 0 {
		cfg.Failsafe.TripAfter = 2
	}

	sys := &cfg.System
	if sys.BootScriptPath == "" {
		sys.BootScriptPath = "/usr/local/bin/uf-gpio-init.sh"
	}
	if sys.StartupServicePath == "" {
		sys.StartupServicePath = "/etc/systemd/system/uf-gpio-init.service"
	}
	if sys.MainServicePath == "" {
		sys.MainServicePath = "/etc/systemd/system/uf-controller.service"
	}
	if sys.ServiceUser == "" {
		sys.ServiceUser = "pi"
	}
	if sys.WorkDir == "" {
		sys.WorkDir = "/home/pi/uf-controller"
	}
	if sys.ExecStart == "" {
		sys.ExecStart = "/usr/local/bin/uf-controller -config-file " + sys.WorkDir + "/config.yaml"
	}
}

// DefaultLabel names channels the way the panel does: valves first, then pumps.
func DefaultLabel(id int) string {
	if id >= 6 {
		return fmt.Sprintf("Pump %d", id-5)
	}
	return fmt.Sprintf("Valve %d", id)
}

func ParseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ChannelIDs returns the configured channel ids in ascending order.
func (cfg *Config) ChannelIDs() []int {
	ids := make([]int, 0, len(cfg.GPIO.Channels))
	for id := range cfg.GPIO.Channels {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (cfg *Config) validate() error {
	var (
		missing   []string
		conflicts []string
		usedPins  = map[int]int{}
	)

	switch cfg.GPIO.Driver {
	case DriverSim, DriverPinctrl, DriverRPIO:
	default:
		return fmt.Errorf("unknown gpio driver %q", cfg.GPIO.Driver)
	}

	for _, id := range cfg.ChannelIDs() {
		ch := cfg.GPIO.Channels[id]
		if id <= 0 {
			return fmt.Errorf("invalid channel id %d", id)
		}
		if ch.Pin == nil {
			missing = append(missing, fmt.Sprintf("gpio.channels.%d.pin", id))
			continue
		}
		if *ch.Pin < 0 {
			return fmt.Errorf("gpio.channels.%d.pin: negative pin %d", id, *ch.Pin)
		}
		if other, exists := usedPins[*ch.Pin]; exists {
			conflicts = append(conflicts, fmt.Sprintf("channels %d and %d both use pin %d", other, id, *ch.Pin))
		} else {
			usedPins[*ch.Pin] = id
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required GPIO config fields: %s", strings.Join(missing, ", "))
	}
	if len(conflicts) > 0 {
		return fmt.Errorf("conflicting GPIO pins: %s", strings.Join(conflicts, ", "))
	}

	for _, p := range model.Processes() {
		for _, id := range p.Channels() {
			if _, ok := cfg.GPIO.Channels[id]; !ok {
				return fmt.Errorf("process %s uses unmapped channel %d", p.Name, id)
			}
		}
	}

	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if cfg.Failsafe.PollIntervalSeconds < 0 || cfg.Failsafe.TripAfter < 0 {
		return fmt.Errorf("failsafe.poll_interval_seconds and failsafe.trip_after must be positive")
	}
	return nil
}
