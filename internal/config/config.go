package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/r973356237/AlphaWorker/internal/logger"
)

// Config represents the application configuration
type Config struct {
	App        AppConfig        `yaml:"app"`
	Brain      BrainConfig      `yaml:"brain"`
	Generator  GeneratorConfig  `yaml:"generator"`
	Simulation SimulationConfig `yaml:"simulation"`
	Files      FilesConfig      `yaml:"files"`
	Cache      CacheConfig      `yaml:"cache"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Logging    logger.Config    `yaml:"logging"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

// BrainConfig represents the remote simulation service connection
type BrainConfig struct {
	BaseURL         string        `yaml:"base_url"`
	CredentialsFile string        `yaml:"credentials_file"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Timeout         time.Duration `yaml:"timeout"`
	LoginRetries    int           `yaml:"login_retries"`
	LoginRetryDelay time.Duration `yaml:"login_retry_delay"`
	RequestsPerSec  float64       `yaml:"requests_per_sec"`
	Burst           int           `yaml:"burst"`
}

// GeneratorConfig represents expression generation parameters
type GeneratorConfig struct {
	Dataset        string   `yaml:"dataset"`
	InstrumentType string   `yaml:"instrument_type"`
	Region         string   `yaml:"region"`
	Universe       string   `yaml:"universe"`
	Delay          int      `yaml:"delay"`
	Templates      []string `yaml:"templates"`
	BaseFields     []string `yaml:"base_fields"`
	Groups         []string `yaml:"groups"`
}

// SimulationConfig represents concurrency and polling parameters
type SimulationConfig struct {
	MaxConcurrent    int           `yaml:"max_concurrent"`
	BatchSize        int           `yaml:"batch_size"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	SubmitRetries    int           `yaml:"submit_retries"`
	SubmitRetryDelay time.Duration `yaml:"submit_retry_delay"`
}

// FilesConfig represents the CSV queue and log file locations
type FilesConfig struct {
	Dir          string `yaml:"dir"`
	PendingCSV   string `yaml:"pending_csv"`
	SimQueueCSV  string `yaml:"sim_queue_csv"`
	FailCSV      string `yaml:"fail_csv"`
	ResultPrefix string `yaml:"result_prefix"`
	WatchListMD  string `yaml:"watch_list_md"`
}

// CacheConfig represents the data-field catalog cache
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	TTL      time.Duration `yaml:"ttl"`
}

// MonitorConfig represents the status/metrics HTTP server
type MonitorConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	PrometheusPath string `yaml:"prometheus_path"`
}

// SchedulerConfig represents cron-driven pipeline runs
type SchedulerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// Load loads configuration from a YAML file, applies environment
// overrides and fills defaults
func Load(filename string) (*Config, error) {
	config := Default()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnvOverrides(NewEnvManager("", ""))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Default returns the built-in configuration, matching the service's
// documented simulation defaults
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:    "alphaworker",
			Version: "dev",
			Env:     "development",
		},
		Brain: BrainConfig{
			BaseURL:         "https://api.worldquantbrain.com",
			CredentialsFile: "brain.txt",
			Timeout:         30 * time.Second,
			LoginRetries:    30,
			LoginRetryDelay: 15 * time.Second,
			RequestsPerSec:  5.0,
			Burst:           10,
		},
		Generator: GeneratorConfig{
			Dataset:        "fundamental2",
			InstrumentType: "EQUITY",
			Region:         "USA",
			Universe:       "TOP3000",
			Delay:          1,
			Templates: []string{
				"-ts_backfill(zscore({base}/sales), 65) + (rank({field})*rank(capex)*rank(dividend/sharesout)+rank(debt_st))",
			},
			BaseFields: []string{
				"fnd6_newa1v1300_gdwl",
				"fnd6_newqv1300_gdwlq",
				"fnd6_acqgdwl",
				"goodwill",
			},
			Groups: []string{"SUBINDUSTRY", "INDUSTRY", "SECTOR", "MARKET"},
		},
		Simulation: SimulationConfig{
			MaxConcurrent:    3,
			BatchSize:        20,
			PollInterval:     3 * time.Second,
			SubmitRetries:    35,
			SubmitRetryDelay: 5 * time.Second,
		},
		Files: FilesConfig{
			Dir:          ".",
			PendingCSV:   "alpha_list_pending_simulated.csv",
			SimQueueCSV:  "sim_queue.csv",
			FailCSV:      "fail_alphas.csv",
			ResultPrefix: "simulated_alphas_",
			WatchListMD:  "wait_submit_list.md",
		},
		Cache: CacheConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			PoolSize: 10,
			TTL:      12 * time.Hour,
		},
		Monitor: MonitorConfig{
			Enabled:        false,
			Host:           "0.0.0.0",
			Port:           8085,
			PrometheusPath: "/metrics",
		},
		Scheduler: SchedulerConfig{
			Enabled: false,
		},
		Logging: logger.Config{
			Level:      logger.LevelInfo,
			Format:     logger.FormatText,
			Output:     "stdout",
			MaxSize:    100,
			MaxAge:     30,
			MaxBackups: 10,
			Compress:   true,
		},
	}
}

// applyEnvOverrides lets deploy environments override the file values
func (c *Config) applyEnvOverrides(env *EnvManager) {
	c.Brain.BaseURL = env.GetString("BRAIN_BASE_URL", c.Brain.BaseURL)
	c.Brain.Username = env.GetEncryptedString("BRAIN_USERNAME", c.Brain.Username)
	c.Brain.Password = env.GetEncryptedString("BRAIN_PASSWORD", c.Brain.Password)
	c.Brain.CredentialsFile = env.GetString("BRAIN_CREDENTIALS_FILE", c.Brain.CredentialsFile)
	c.Brain.Timeout = env.GetDuration("BRAIN_TIMEOUT", c.Brain.Timeout)

	c.Simulation.MaxConcurrent = env.GetInt("MAX_CONCURRENT", c.Simulation.MaxConcurrent)
	c.Simulation.BatchSize = env.GetInt("BATCH_SIZE", c.Simulation.BatchSize)
	c.Simulation.PollInterval = env.GetDuration("POLL_INTERVAL", c.Simulation.PollInterval)

	c.Files.Dir = env.GetString("DATA_DIR", c.Files.Dir)

	c.Cache.Enabled = env.GetBool("CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.Addr = env.GetString("CACHE_ADDR", c.Cache.Addr)
	c.Cache.Password = env.GetEncryptedString("CACHE_PASSWORD", c.Cache.Password)

	c.Monitor.Enabled = env.GetBool("MONITOR_ENABLED", c.Monitor.Enabled)
	c.Monitor.Port = env.GetInt("MONITOR_PORT", c.Monitor.Port)

	if level := env.GetString("LOG_LEVEL", ""); level != "" {
		c.Logging.Level = logger.LogLevel(level)
	}
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Brain.BaseURL == "" {
		return fmt.Errorf("brain.base_url is required")
	}
	if c.Simulation.MaxConcurrent <= 0 {
		return fmt.Errorf("simulation.max_concurrent must be positive, got %d", c.Simulation.MaxConcurrent)
	}
	if c.Simulation.BatchSize <= 0 {
		return fmt.Errorf("simulation.batch_size must be positive, got %d", c.Simulation.BatchSize)
	}
	if c.Simulation.PollInterval <= 0 {
		return fmt.Errorf("simulation.poll_interval must be positive")
	}
	if len(c.Generator.Templates) == 0 {
		return fmt.Errorf("generator.templates must not be empty")
	}
	if len(c.Generator.Groups) == 0 {
		return fmt.Errorf("generator.groups must not be empty")
	}
	if c.Scheduler.Enabled && c.Scheduler.Schedule == "" {
		return fmt.Errorf("scheduler.schedule is required when the scheduler is enabled")
	}
	return nil
}
