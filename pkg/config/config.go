package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/relaykit/hubsink/pkg/batch"
)

// Transport kinds for the hub connection.
const (
	TransportHTTP  = "http"
	TransportKafka = "kafka"
)

// Config is the full daemon configuration.
type Config struct {
	Hub      HubConfig      `yaml:"hub"`
	Buffer   BufferConfig   `yaml:"buffer"`
	Retry    RetryConfig    `yaml:"retry"`
	Listener ListenerConfig `yaml:"listener"`
	Log      LogConfig      `yaml:"log"`
}

// HubConfig describes the hub connection entries are delivered to.
type HubConfig struct {
	// Transport selects the hub transport, "http" or "kafka".
	Transport string `yaml:"transport"`

	// Endpoint is the scheme and host of the hub namespace (http transport).
	Endpoint string `yaml:"endpoint"`

	// Hub is the hub stream name (http path segment or kafka topic).
	Hub string `yaml:"hub"`

	// Publisher is the publisher identity entries are sent under.
	Publisher string `yaml:"publisher"`

	// Token is the credential attached to every request (http transport).
	Token string `yaml:"token"`

	// Brokers is the seed broker list (kafka transport).
	Brokers string `yaml:"brokers"`

	// RequestTimeout bounds one send, e.g. "30s".
	RequestTimeout string `yaml:"requestTimeout"`

	// Parsed by validate
	RequestTimeoutDuration time.Duration `yaml:"-"`
}

// BufferConfig describes the backlog and flush triggers.
type BufferConfig struct {
	// Count flushes once this many entries are buffered. Zero selects
	// auto-sized batching, where only the interval and forced flushes
	// trigger delivery.
	Count int `yaml:"count"`

	// Interval is the time-based flush trigger, e.g. "30s".
	Interval string `yaml:"interval"`

	// MaxEntries caps the backlog; entries arriving beyond it are dropped.
	MaxEntries int `yaml:"maxEntries"`

	// MaxBatchBytes is the byte ceiling for one auto-sized batch body.
	MaxBatchBytes int `yaml:"maxBatchBytes"`

	// OnCompletedTimeout bounds the final flush on completion or disposal.
	OnCompletedTimeout string `yaml:"onCompletedTimeout"`

	// Parsed by validate
	IntervalDuration           time.Duration `yaml:"-"`
	OnCompletedTimeoutDuration time.Duration `yaml:"-"`
}

// RetryConfig describes the delivery retry schedule.
type RetryConfig struct {
	// MaxAttempts is the total number of tries per batch.
	MaxAttempts int `yaml:"maxAttempts"`

	// InitialDelay is the wait before the second attempt, e.g. "500ms".
	InitialDelay string `yaml:"initialDelay"`

	// MaxDelay caps the exponential growth of the wait.
	MaxDelay string `yaml:"maxDelay"`

	// Parsed by validate
	InitialDelayDuration time.Duration `yaml:"-"`
	MaxDelayDuration     time.Duration `yaml:"-"`
}

// ListenerConfig describes the ingest HTTP listener.
type ListenerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr"`

	// Token guards the ingest endpoint. An empty token disables auth.
	Token string `yaml:"token"`
}

// LogConfig describes the logging setup.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// applyDefaults fills every optional field that was left at its zero value.
func (c *Config) applyDefaults() {
	if c.Hub.Transport == "" {
		c.Hub.Transport = TransportHTTP
	}
	if c.Hub.Brokers == "" {
		c.Hub.Brokers = "localhost:9092"
	}
	if c.Hub.RequestTimeout == "" {
		c.Hub.RequestTimeout = "30s"
	}

	if c.Buffer.Interval == "" {
		c.Buffer.Interval = "30s"
	}
	if c.Buffer.MaxEntries == 0 {
		c.Buffer.MaxEntries = 30000
	}
	if c.Buffer.MaxBatchBytes == 0 {
		c.Buffer.MaxBatchBytes = batch.DefaultCeilingBytes
	}
	if c.Buffer.OnCompletedTimeout == "" {
		c.Buffer.OnCompletedTimeout = "10s"
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.InitialDelay == "" {
		c.Retry.InitialDelay = "500ms"
	}
	if c.Retry.MaxDelay == "" {
		c.Retry.MaxDelay = "30s"
	}

	if c.Listener.Addr == "" {
		c.Listener.Addr = ":8080"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// validate checks the config and parses the duration fields. It fails fast
// on a missing endpoint, hub name, publisher identity or credential.
func (c *Config) validate() error {
	switch c.Hub.Transport {
	case TransportHTTP:
		if c.Hub.Endpoint == "" {
			return errors.New("hub.endpoint is required")
		}
		if c.Hub.Hub == "" {
			return errors.New("hub.hub is required")
		}
		if c.Hub.Publisher == "" {
			return errors.New("hub.publisher is required")
		}
		if c.Hub.Token == "" {
			return errors.New("hub.token is required")
		}
	case TransportKafka:
		if c.Hub.Brokers == "" {
			return errors.New("hub.brokers is required")
		}
		if c.Hub.Hub == "" {
			return errors.New("hub.hub is required")
		}
		if c.Hub.Publisher == "" {
			return errors.New("hub.publisher is required")
		}
	default:
		return fmt.Errorf("hub.transport must be %q or %q, got %q", TransportHTTP, TransportKafka, c.Hub.Transport)
	}

	if c.Buffer.Count < 0 {
		return fmt.Errorf("buffer.count must not be negative, got %d", c.Buffer.Count)
	}
	if c.Buffer.MaxEntries < 1 {
		return fmt.Errorf("buffer.maxEntries must be positive, got %d", c.Buffer.MaxEntries)
	}
	if c.Buffer.MaxBatchBytes < 1 {
		return fmt.Errorf("buffer.maxBatchBytes must be positive, got %d", c.Buffer.MaxBatchBytes)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.maxAttempts must be positive, got %d", c.Retry.MaxAttempts)
	}

	var err error
	if c.Hub.RequestTimeoutDuration, err = parseDuration("hub.requestTimeout", c.Hub.RequestTimeout); err != nil {
		return err
	}
	if c.Buffer.IntervalDuration, err = parseDuration("buffer.interval", c.Buffer.Interval); err != nil {
		return err
	}
	if c.Buffer.OnCompletedTimeoutDuration, err = parseDuration("buffer.onCompletedTimeout", c.Buffer.OnCompletedTimeout); err != nil {
		return err
	}
	if c.Retry.InitialDelayDuration, err = parseDuration("retry.initialDelay", c.Retry.InitialDelay); err != nil {
		return err
	}
	if c.Retry.MaxDelayDuration, err = parseDuration("retry.maxDelay", c.Retry.MaxDelay); err != nil {
		return err
	}

	return nil
}

func parseDuration(field, value string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s: duration must be positive, got %q", field, value)
	}
	return parsed, nil
}
