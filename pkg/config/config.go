package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration marks errors that must abort startup. Callers can test
// with errors.Is.
var ErrConfiguration = errors.New("configuration error")

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`

	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`

	Broker struct {
		BaseURL        string        `yaml:"base_url" validate:"required,url"`
		Timeout        time.Duration `yaml:"timeout" default:"15s"`
		StreamURL      string        `yaml:"stream_url"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"20s"`
	} `yaml:"broker"`

	RateLimit struct {
		MaxCalls int           `yaml:"max_calls" default:"58" validate:"gt=0"`
		Window   time.Duration `yaml:"window" default:"30s" validate:"gt=0"`
	} `yaml:"rate_limit"`

	Pipeline struct {
		Workers      int           `yaml:"workers" default:"10" validate:"gt=0"`
		BatchSize    int           `yaml:"batch_size" default:"50" validate:"gt=0"`
		MaxRetries   int           `yaml:"max_retries" default:"3" validate:"gte=0"`
		RetryBackoff time.Duration `yaml:"retry_backoff" default:"500ms" validate:"gt=0"`
		SnapshotTTL  time.Duration `yaml:"snapshot_ttl" default:"5m" validate:"gt=0"`
		SeriesTTL    time.Duration `yaml:"series_ttl" default:"2h" validate:"gt=0"`
		BarCount     int           `yaml:"bar_count" default:"100" validate:"gt=0"`
	} `yaml:"pipeline"`

	Screener struct {
		Universe           []string      `yaml:"universe"`
		Priority           []string      `yaml:"priority"`
		UniverseCap        int           `yaml:"universe_cap" default:"2000" validate:"gt=0"`
		MaxSelected        int           `yaml:"max_selected" default:"10" validate:"gt=0"`
		MinBars            int           `yaml:"min_bars" default:"20" validate:"gt=0"`
		MinVolumeRatio     float64       `yaml:"min_volume_ratio" default:"0" validate:"gte=0"`
		MinPrice           float64       `yaml:"min_price" default:"0.1" validate:"gte=0"`
		MinVolume          int64         `yaml:"min_volume" default:"2000000" validate:"gte=0"`
		MinMarketCap       float64       `yaml:"min_market_cap" default:"200000000" validate:"gte=0"`
		MaxChangeRate      float64       `yaml:"max_change_rate" default:"0.15" validate:"gt=0"`
		DerivativePrefixes []string      `yaml:"derivative_prefixes" default:"[\"810\",\"441\",\"457\",\"458\",\"459\",\"883\",\"884\"]"`
		Interval           time.Duration `yaml:"interval" default:"5m"`
	} `yaml:"screener"`

	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"screener.selections"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"1s"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`

	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error fatal panic"`
		Format string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
}

// Load reads and parses a YAML configuration file, fills defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read config: %v", ErrConfiguration, err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("%w: parse config: %v", ErrConfiguration, err)
	}

	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("%w: apply defaults: %v", ErrConfiguration, err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("BROKER_BASE_URL"); v != "" {
		c.Broker.BaseURL = v
	}
	if v := os.Getenv("BROKER_STREAM_URL"); v != "" {
		c.Broker.StreamURL = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Screener.Universe = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

var validate = validator.New()

// Validate checks field constraints plus the cross-field rules that tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("%w: %s fails %q", ErrConfiguration, e.Namespace(), e.Tag())
		}
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	// More workers than window slots can never run concurrently; treat the
	// mismatch as an operator mistake rather than silently capping.
	if c.Pipeline.Workers > c.RateLimit.MaxCalls {
		return fmt.Errorf("%w: pipeline.workers (%d) exceeds rate_limit.max_calls (%d)",
			ErrConfiguration, c.Pipeline.Workers, c.RateLimit.MaxCalls)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("%w: kafka.enabled requires kafka.brokers", ErrConfiguration)
	}

	if len(c.Screener.Universe) == 0 {
		return fmt.Errorf("%w: screener.universe cannot be empty", ErrConfiguration)
	}

	return nil
}
