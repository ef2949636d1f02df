package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port      int    `yaml:"port"`
	RedisAddr string `yaml:"redisAddr"`
	RedisPass string `yaml:"redisPassword"`
	Timezone  string `yaml:"timezone"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
	Env       string `yaml:"env"`

	AgentURL            string `yaml:"agentUrl"`
	AgentToken          string `yaml:"agentToken"`
	AgentTimeoutSeconds int    `yaml:"agentTimeoutSeconds"`
	CallbackBaseURL     string `yaml:"callbackBaseUrl"`

	QueueName          string `yaml:"queueName"`
	WorkerConcurrency  int    `yaml:"workerConcurrency"`
	MaxRetry           int    `yaml:"maxRetry"`
	RetentionHours     int    `yaml:"retentionHours"`
	ProjectLockSeconds int    `yaml:"projectLockSeconds"`

	LocalArtifactsDir string `yaml:"localArtifactsDir"`

	EstimatedMinutes   int    `yaml:"estimatedMinutes"`
	StuckQueuedSeconds int    `yaml:"stuckQueuedSeconds"`
	SweepSchedule      string `yaml:"sweepSchedule"`
	SweepBatchLimit    int    `yaml:"sweepBatchLimit"`

	ClientAuthProvider string `yaml:"clientAuthProvider"`
	ClientAuthConfig   string `yaml:"clientAuthConfig"`
	AgentAuthProvider  string `yaml:"agentAuthProvider"`
	AgentAuthConfig    string `yaml:"agentAuthConfig"`

	TracingEnabled     bool    `yaml:"tracingEnabled"`
	OTLPEndpoint       string  `yaml:"otlpEndpoint"`
	TracingSampleRatio float64 `yaml:"tracingSampleRatio"`
}

// Load reads an optional YAML file, then applies env overrides and defaults.
// An empty path yields a config built from env + defaults only.
func Load(filePath string) (*Config, error) {
	var c Config
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, err
		}
	}
	applyEnv(&c)
	applyDefaults(&c)
	return &c, nil
}

func applyEnv(c *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPass = v
	}
	if v := os.Getenv("AGENT_URL"); v != "" {
		c.AgentURL = v
	}
	if v := os.Getenv("AGENT_TOKEN"); v != "" {
		c.AgentToken = v
	}
	if v := os.Getenv("AGENT_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.AgentTimeoutSeconds = n
		}
	}
	if v := os.Getenv("CALLBACK_BASE_URL"); v != "" {
		c.CallbackBaseURL = v
	}
	if v := os.Getenv("QUEUE_NAME"); v != "" {
		c.QueueName = v
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WorkerConcurrency = n
		}
	}
	if v := os.Getenv("MAX_RETRY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRetry = n
		}
	}
	if v := os.Getenv("RETENTION_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RetentionHours = n
		}
	}
	if v := os.Getenv("PROJECT_LOCK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ProjectLockSeconds = n
		}
	}
	if v := os.Getenv("LOCAL_ARTIFACTS_DIR"); v != "" {
		c.LocalArtifactsDir = v
	}
	if v := os.Getenv("STUCK_QUEUED_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.StuckQueuedSeconds = n
		}
	}
	if v := os.Getenv("SWEEP_SCHEDULE"); v != "" {
		c.SweepSchedule = v
	}
	if v := os.Getenv("CLIENT_AUTH_PROVIDER"); v != "" {
		c.ClientAuthProvider = v
	}
	if v := os.Getenv("CLIENT_AUTH_CONFIG"); v != "" {
		c.ClientAuthConfig = v
	}
	if v := os.Getenv("AGENT_AUTH_PROVIDER"); v != "" {
		c.AgentAuthProvider = v
	}
	if v := os.Getenv("AGENT_AUTH_CONFIG"); v != "" {
		c.AgentAuthConfig = v
	}
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		c.TracingEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.OTLPEndpoint = v
	}
}

func applyDefaults(c *Config) {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.AgentTimeoutSeconds <= 0 {
		c.AgentTimeoutSeconds = 1800
	}
	if c.QueueName == "" {
		c.QueueName = "designs"
	}
	if c.WorkerConcurrency <= 0 {
		c.WorkerConcurrency = 4
	}
	if c.MaxRetry < 0 {
		c.MaxRetry = 0
	}
	if c.MaxRetry == 0 {
		c.MaxRetry = 3
	}
	if c.RetentionHours <= 0 {
		c.RetentionHours = 24
	}
	if c.ProjectLockSeconds <= 0 {
		c.ProjectLockSeconds = c.AgentTimeoutSeconds + 60
	}
	if c.LocalArtifactsDir == "" {
		c.LocalArtifactsDir = "/tmp/designq-artifacts"
	}
	if c.EstimatedMinutes <= 0 {
		c.EstimatedMinutes = 20
	}
	if c.StuckQueuedSeconds <= 0 {
		c.StuckQueuedSeconds = 600
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = "@every 1m"
	}
	if c.SweepBatchLimit <= 0 {
		c.SweepBatchLimit = 500
	}
	if c.TracingSampleRatio <= 0 || c.TracingSampleRatio > 1 {
		c.TracingSampleRatio = 1
	}
}

func (c *Config) Validate() error {
	var errs []string
	env := strings.ToLower(strings.TrimSpace(c.Env))
	dev := env == "dev"

	if c.AgentURL == "" {
		if !dev {
			errs = append(errs, "agentUrl is required in non-dev")
		}
	} else {
		u, err := url.Parse(c.AgentURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, "agentUrl must be a valid http(s) URL")
		}
	}
	if c.AgentAuthProvider == "" && !dev {
		errs = append(errs, "agentAuthProvider is required in non-dev")
	}
	if c.ClientAuthProvider == "" && !dev {
		errs = append(errs, "clientAuthProvider is required in non-dev")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
