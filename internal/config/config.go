package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Gateway drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config represents the complete worker service configuration
type Config struct {
	App       AppConfig       `yaml:"app"`
	Logging   LoggingConfig   `yaml:"logging"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Worker    WorkerConfig    `yaml:"worker"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Events    EventsConfig    `yaml:"events"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" validate:"omitempty,oneof=development staging production test"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format       string `yaml:"format" validate:"omitempty,oneof=text json console"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// ServerConfig holds the status HTTP server configuration
type ServerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
	// EnableSubmit exposes POST /api/v1/jobs
	EnableSubmit bool `yaml:"enable_submit"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"omitempty,min=1,max=65535"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" validate:"gte=0"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port" validate:"omitempty,min=1,max=65535"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type" validate:"omitempty,oneof=direct topic fanout headers"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts" validate:"gte=0"`
	RetryInterval time.Duration `yaml:"retry_interval" validate:"gte=0"`
	Heartbeat     time.Duration `yaml:"heartbeat" validate:"gte=0"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts" validate:"gte=0"`
	RetryInterval     time.Duration `yaml:"retry_interval" validate:"gte=0"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" validate:"gte=0"`
}

// WorkerConfig holds the job worker configuration
type WorkerConfig struct {
	JobType           string        `yaml:"job_type" validate:"required"`
	WorkerName        string        `yaml:"worker_name"`
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs" validate:"gt=0"`
	MaxJobsToActivate int           `yaml:"max_jobs_to_activate" validate:"gte=0"`
	PollInterval      time.Duration `yaml:"poll_interval" validate:"gt=0"`
	PollMode          string        `yaml:"poll_mode" validate:"omitempty,oneof=interval continuous"`
	JobTimeout        time.Duration `yaml:"job_timeout" validate:"gt=0"`
	OnHandlerFault    string        `yaml:"on_handler_fault" validate:"omitempty,oneof=report_as_failure drop_and_let_lease_expire"`
	DrainTimeout      time.Duration `yaml:"drain_timeout" validate:"gte=0"`
	ReportTimeout     time.Duration `yaml:"report_timeout" validate:"gte=0"`
	ErrorBuffer       int           `yaml:"error_buffer" validate:"gte=0"`
}

// GatewayConfig selects the broker the worker talks to
type GatewayConfig struct {
	Driver string `yaml:"driver" validate:"oneof=memory postgres"`
	Codec  string `yaml:"codec" validate:"oneof=json msgpack"`
	// Migrate applies the jobs schema on start (postgres only)
	Migrate        bool  `yaml:"migrate"`
	DefaultRetries int32 `yaml:"default_retries" validate:"gte=0"`
}

// EventsConfig controls outcome event publishing
type EventsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Codec          string        `yaml:"codec" validate:"omitempty,oneof=json msgpack"`
	Buffer         int           `yaml:"buffer" validate:"gte=0"`
	PublishTimeout time.Duration `yaml:"publish_timeout" validate:"gte=0"`
}

// TelemetryConfig controls the OpenTelemetry SDK providers. Without them
// the worker's instruments record into the global noop providers.
type TelemetryConfig struct {
	// Metrics collects worker metrics, served at /api/v1/worker/metrics
	Metrics bool `yaml:"metrics"`
	// Tracing exports one span per handler run to TraceOutput
	Tracing     bool   `yaml:"tracing"`
	TraceOutput string `yaml:"trace_output" validate:"omitempty,oneof=stdout stderr"`
}

// Load reads, expands and parses the configuration file. The file is
// decoded over Default(), so keys left out keep their default while keys
// set to zero stay zero and reach validation. ${VAR} references are
// replaced from the environment.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.resolve()
	return config, nil
}

// Default returns a configuration holding every default value
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name: "job-worker-service",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Server: ServerConfig{
			Port:            8081,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		RabbitMQ: RabbitMQConfig{
			Exchange: ExchangeConfig{Type: "topic"},
		},
		Worker: WorkerConfig{
			MaxConcurrentJobs: 8,
			PollInterval:      100 * time.Millisecond,
			PollMode:          "interval",
			JobTimeout:        5 * time.Minute,
			OnHandlerFault:    "report_as_failure",
			DrainTimeout:      30 * time.Second,
		},
		Gateway: GatewayConfig{
			Driver:         DriverMemory,
			Codec:          "json",
			DefaultRetries: 3,
		},
		Telemetry: TelemetryConfig{
			TraceOutput: "stderr",
		},
	}
}

// resolve fills values derived from other sections
func (c *Config) resolve() {
	if c.Events.Codec == "" {
		c.Events.Codec = c.Gateway.Codec
	}
}

var validate = newValidator()

// newValidator reports fields by their yaml names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateWorkerConfig checks that the configuration can start a worker.
// Database settings are required by the postgres driver and RabbitMQ
// settings by event publishing.
func (c *Config) ValidateWorkerConfig() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	if c.Gateway.Driver == DriverPostgres && c.Database.URL == "" {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.Events.Enabled {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
	}

	if c.Worker.MaxJobsToActivate > c.Worker.MaxConcurrentJobs {
		return fmt.Errorf("worker max_jobs_to_activate (%d) must not exceed max_concurrent_jobs (%d)",
			c.Worker.MaxJobsToActivate, c.Worker.MaxConcurrentJobs)
	}

	return nil
}

// formatValidationError turns validator errors into one readable message
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
