// Package config loads service configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full service configuration.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Whisper       WhisperConfig       `yaml:"whisper"`
	Stream        StreamConfig        `yaml:"stream"`
	Workers       WorkerConfig        `yaml:"workers"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig identifies the process and its listen address.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	HTTPPort string `yaml:"httpPort"`
}

// WhisperConfig selects and parameterizes the inference engine.
// Decode parameters are fixed for the process lifetime.
type WhisperConfig struct {
	Engine       string `yaml:"engine"`  // exec, mock
	Command      string `yaml:"command"` // engine executable + base args
	Model        string `yaml:"model"`   // tiny, base, small, medium, large-v3
	Device       string `yaml:"device"`  // cpu, cuda, auto
	ComputeType  string `yaml:"computeType"`
	BeamSize     int    `yaml:"beamSize"`
	VADFilter    bool   `yaml:"vadFilter"`
	MinSilenceMs int    `yaml:"minSilenceMs"`
}

// StreamConfig tunes the streaming session coordinator.
type StreamConfig struct {
	// BatchSize is the number of ingested fragments that make the
	// accumulated buffer eligible for a flush.
	BatchSize       int    `yaml:"batchSize"`
	DefaultLanguage string `yaml:"defaultLanguage"`
	MaxBufferBytes  int64  `yaml:"maxBufferBytes"`
}

// WorkerConfig bounds the inference worker pool.
type WorkerConfig struct {
	PoolSize        int           `yaml:"poolSize"`
	QueueDepth      int           `yaml:"queueDepth"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// KafkaConfig configures the transcript event publisher.
type KafkaConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Brokers     []string `yaml:"brokers"`
	TopicStream string   `yaml:"topicStream"`
	TopicFinal  string   `yaml:"topicFinal"`
	Principal   string   `yaml:"principal"`
}

// ObservabilityConfig tunes logging output.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"` // json, console
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE (if set), and environment variable overrides, in that order.
func Load() *Config {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v, continuing with defaults\n", err)
		}
	}

	cfg.applyEnv()
	return cfg
}

func defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "whisper-transcription-service",
			HTTPPort: "8765",
		},
		Whisper: WhisperConfig{
			Engine:       "exec",
			Command:      "whisper-cli",
			Model:        "base",
			Device:       "auto",
			ComputeType:  "int8",
			BeamSize:     5,
			VADFilter:    true,
			MinSilenceMs: 500,
		},
		Stream: StreamConfig{
			BatchSize:       3,
			DefaultLanguage: "en",
			MaxBufferBytes:  32 * 1024 * 1024,
		},
		Workers: WorkerConfig{
			PoolSize:        2,
			QueueDepth:      8,
			ShutdownTimeout: 30 * time.Second,
		},
		Kafka: KafkaConfig{
			Enabled:     false,
			TopicStream: "transcription.transcript.streamed",
			TopicFinal:  "transcription.transcript.final",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Service.Name = envOrDefault("SERVICE_NAME", c.Service.Name)
	c.Service.HTTPPort = envOrDefault("HTTP_PORT", c.Service.HTTPPort)

	c.Whisper.Engine = envOrDefault("WHISPER_ENGINE", c.Whisper.Engine)
	c.Whisper.Command = envOrDefault("WHISPER_COMMAND", c.Whisper.Command)
	c.Whisper.Model = envOrDefault("WHISPER_MODEL", c.Whisper.Model)
	c.Whisper.Device = envOrDefault("WHISPER_DEVICE", c.Whisper.Device)
	c.Whisper.ComputeType = envOrDefault("WHISPER_COMPUTE_TYPE", c.Whisper.ComputeType)
	c.Whisper.BeamSize = envOrDefaultInt("WHISPER_BEAM_SIZE", c.Whisper.BeamSize)
	c.Whisper.VADFilter = envOrDefaultBool("WHISPER_VAD_FILTER", c.Whisper.VADFilter)
	c.Whisper.MinSilenceMs = envOrDefaultInt("WHISPER_MIN_SILENCE_MS", c.Whisper.MinSilenceMs)

	c.Stream.BatchSize = envOrDefaultInt("WHISPER_BATCH_SIZE", c.Stream.BatchSize)
	c.Stream.DefaultLanguage = envOrDefault("STREAM_DEFAULT_LANGUAGE", c.Stream.DefaultLanguage)
	c.Stream.MaxBufferBytes = envOrDefaultInt64("STREAM_MAX_BUFFER_BYTES", c.Stream.MaxBufferBytes)

	c.Workers.PoolSize = envOrDefaultInt("WORKER_POOL_SIZE", c.Workers.PoolSize)
	c.Workers.QueueDepth = envOrDefaultInt("WORKER_QUEUE_DEPTH", c.Workers.QueueDepth)
	c.Workers.ShutdownTimeout = envOrDefaultDuration("WORKER_SHUTDOWN_TIMEOUT", c.Workers.ShutdownTimeout)

	c.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", c.Kafka.Enabled)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitAndTrim(v)
	}
	c.Kafka.TopicStream = envOrDefault("KAFKA_TOPIC_STREAM", c.Kafka.TopicStream)
	c.Kafka.TopicFinal = envOrDefault("KAFKA_TOPIC_FINAL", c.Kafka.TopicFinal)
	c.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", c.Kafka.Principal)
	if c.Kafka.Principal == "" {
		c.Kafka.Principal = c.Service.Name
	}

	c.Observability.LogLevel = envOrDefault("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = envOrDefault("LOG_FORMAT", c.Observability.LogFormat)
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
