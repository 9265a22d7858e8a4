package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort          = 12345
	DefaultPath          = "/verse"
	DefaultPriority      = 128
	DefaultPumpInterval  = time.Second / 60
	DefaultQueueSize     = 1024
	DefaultEchoTimeout   = 30 * time.Second
	DefaultProgressEvery = 10000
	DefaultStrategy      = "buffered"
	DefaultLogLevel      = "info"
)

type Server struct {
	Address    string `yaml:"address"`
	Port       int    `yaml:"port"`
	Path       string `yaml:"path"`
	Secure     bool   `yaml:"secure"`
	SkipVerify bool   `yaml:"skipVerify"`
}

type Credentials struct {
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

type Upload struct {
	File                string `yaml:"file"`
	Strategy            string `yaml:"strategy"`
	Priority            int    `yaml:"priority"`
	ProgressEvery       int    `yaml:"progressEvery"`
	TerminateOnComplete bool   `yaml:"terminateOnComplete"`
}

type Transport struct {
	PumpInterval time.Duration `yaml:"pumpInterval"`
	SendRate     float64       `yaml:"sendRate"` // frames per second, 0 is unlimited
	SendBurst    int           `yaml:"sendBurst"`
	QueueSize    int           `yaml:"queueSize"`
}

type Diagnostics struct {
	JournalDir  string        `yaml:"journalDir,omitempty"`
	EchoTimeout time.Duration `yaml:"echoTimeout"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	Server      Server        `yaml:"server"`
	Credentials Credentials   `yaml:"credentials"`
	Upload      Upload        `yaml:"upload"`
	Transport   Transport     `yaml:"transport"`
	Diagnostics Diagnostics   `yaml:"diagnostics"`
	Logging     LoggingConfig `yaml:"logging"`
	Debug       bool          `yaml:"debug"`
}

var (
	ErrConfigFileMissing        = errors.New("config file is missing")
	ErrConfigFileUnreadable     = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable = errors.New("config file is unmarshallable")
	ErrServerMissing            = errors.New("server address is missing")
	ErrFileMissing              = errors.New("geometry file is missing")
	ErrPortInvalid              = errors.New("server port must be between 1 and 65535")
	ErrStrategyInvalid          = errors.New("upload strategy must be buffered or streaming")
	ErrPriorityInvalid          = errors.New("upload priority must be between 0 and 255")
	ErrPumpIntervalInvalid      = errors.New("transport pumpInterval must be positive")
	ErrSendRateInvalid          = errors.New("transport sendRate must not be negative")
)

func Default() *Config {
	return &Config{
		Server: Server{
			Port: DefaultPort,
			Path: DefaultPath,
		},
		Upload: Upload{
			Strategy:      DefaultStrategy,
			Priority:      DefaultPriority,
			ProgressEvery: DefaultProgressEvery,
		},
		Transport: Transport{
			PumpInterval: DefaultPumpInterval,
			QueueSize:    DefaultQueueSize,
		},
		Diagnostics: Diagnostics{
			EchoTimeout: DefaultEchoTimeout,
		},
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
		},
	}
}

// LoadConfig reads configFile over the defaults. Fields the file leaves out
// keep their default value. The result is not validated, since flags may
// still fill in the server and file.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileMissing, configFile)
		}
		return nil, fmt.Errorf("%w: %v", ErrConfigFileUnreadable, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigFileUnmarshallable, err)
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	if cfg.Server.Address == "" {
		return ErrServerMissing
	}
	if cfg.Upload.File == "" {
		return ErrFileMissing
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return ErrPortInvalid
	}
	switch cfg.Upload.Strategy {
	case "buffered", "streaming":
	default:
		return ErrStrategyInvalid
	}
	if cfg.Upload.Priority < 0 || cfg.Upload.Priority > 255 {
		return ErrPriorityInvalid
	}
	if cfg.Transport.PumpInterval <= 0 {
		return ErrPumpIntervalInvalid
	}
	if cfg.Transport.SendRate < 0 {
		return ErrSendRateInvalid
	}
	return nil
}

// GenerateConfig writes the defaults to path as a starting point.
func GenerateConfig(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
