package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "SENTELLENT_CONFIG"

// DefaultPath 是未指定路径时使用的配置文件。
const DefaultPath = "configs/sentellent.yaml"

// Config 描述了 Sentellent 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Events   EventsConfig   `yaml:"events"`
	LLM      LLMConfig      `yaml:"llm"`
	Agent    AgentConfig    `yaml:"agent"`
	Fallback FallbackConfig `yaml:"fallback"`
	Alerting AlertingConfig `yaml:"alerting"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig 控制 API 的访问令牌。mode 为 disabled 时不做认证。
type AuthConfig struct {
	Mode   string            `yaml:"mode"`
	Tokens []AuthTokenConfig `yaml:"tokens"`
}

// AuthTokenConfig 是一个 API 客户端的令牌，users 为可代表的用户，"*" 表示全部。
type AuthTokenConfig struct {
	Name     string   `yaml:"name"`
	Token    string   `yaml:"token"`
	Users    []string `yaml:"users"`
	Disabled bool     `yaml:"disabled"`
}

// LoggingConfig 对应 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level       string      `yaml:"level"`
	Format      string      `yaml:"format"`
	OutputPaths []string    `yaml:"output_paths"`
	Audit       AuditConfig `yaml:"audit"`
}

// AuditConfig 控制审计日志的滚动策略。
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// StorageConfig 描述会话状态存储。
type StorageConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig 为空地址时使用进程内锁与缓存。
type RedisConfig struct {
	Address        string        `yaml:"address"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	KeyPrefix      string        `yaml:"key_prefix"`
	LockTTL        time.Duration `yaml:"lock_ttl"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

// EventsConfig 描述动作生命周期事件的投递方式。
type EventsConfig struct {
	Driver      string `yaml:"driver"`
	Queue       string `yaml:"queue"`
	RabbitMQURL string `yaml:"rabbitmq_url"`
	Workers     int    `yaml:"workers"`
	BufferSize  int    `yaml:"buffer_size"`
}

// LLMConfig 用于配置大模型规划器的调用方式。
type LLMConfig struct {
	Provider    string           `yaml:"provider"`
	Model       string           `yaml:"model"`
	APIKey      string           `yaml:"api_key"`
	BaseURL     string           `yaml:"base_url"`
	Timeout     time.Duration    `yaml:"timeout"`
	MaxTokens   int              `yaml:"max_tokens"`
	TokenBudget int              `yaml:"token_budget"`
	Exec        ExecBridgeConfig `yaml:"exec"`
}

// ExecBridgeConfig 描述通过外部进程完成推理时所需的信息。
type ExecBridgeConfig struct {
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	WorkingDir string   `yaml:"working_dir"`
}

// AgentConfig 控制编排循环的边界。
type AgentConfig struct {
	MaxIterations      int           `yaml:"max_iterations"`
	MaxFallbackRetries int           `yaml:"max_fallback_retries"`
	TurnTimeout        time.Duration `yaml:"turn_timeout"`
	LockWait           time.Duration `yaml:"lock_wait"`
	Timezone           string        `yaml:"timezone"`
	PageSize           int           `yaml:"page_size"`
	ShowAllLimit       int           `yaml:"show_all_limit"`
}

// FallbackConfig 控制兜底通道的沙箱，默认开启。
type FallbackConfig struct {
	Disabled       bool          `yaml:"disabled"`
	SandboxTimeout time.Duration `yaml:"sandbox_timeout"`
	UseLLMCodegen  bool          `yaml:"use_llm_codegen"`
}

// AlertingConfig 描述告警通道。
type AlertingConfig struct {
	Enabled         bool   `yaml:"enabled"`
	SlackWebhookURL string `yaml:"slack_webhook_url"`
	DingTalkURL     string `yaml:"dingtalk_url"`
	// Email 为逗号分隔的收件人列表，告警邮件经由 EmailAccount 的邮箱发出。
	Email        string `yaml:"email"`
	EmailAccount string `yaml:"email_account"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir"`
}

// ResolvePath 按照参数、环境变量、默认值的顺序确定配置文件路径。
func ResolvePath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return env
	}
	return DefaultPath
}

// Load 负责解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg, err := Parse(content, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse 解析配置内容，baseDir 用于展开相对路径。
func Parse(content []byte, baseDir string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(baseDir)
	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回只使用内存组件的配置，便于本地运行。
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(baseDir)
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 90 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.DSN == "" {
		c.Storage.DSN = filepath.Join(c.Runtime.DataDir, "sentellent.db")
	}

	if c.Redis.LockTTL <= 0 {
		c.Redis.LockTTL = 2 * time.Minute
	}
	if c.Redis.IdempotencyTTL <= 0 {
		c.Redis.IdempotencyTTL = 24 * time.Hour
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Alerting.EmailAccount == "" {
		c.Alerting.EmailAccount = "sentellent-alerts"
	}
	if c.Events.Queue == "" {
		c.Events.Queue = "sentellent.action_events"
	}
	if c.Events.Workers <= 0 {
		c.Events.Workers = 2
	}
	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = 256
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "none"
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = 30 * time.Second
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.LLM.TokenBudget <= 0 {
		c.LLM.TokenBudget = 6000
	}
	if c.LLM.Exec.WorkingDir == "" {
		c.LLM.Exec.WorkingDir = baseDir
	} else if !filepath.IsAbs(c.LLM.Exec.WorkingDir) {
		c.LLM.Exec.WorkingDir = filepath.Join(baseDir, c.LLM.Exec.WorkingDir)
	}

	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 5
	}
	if c.Agent.MaxFallbackRetries <= 0 {
		c.Agent.MaxFallbackRetries = 5
	}
	if c.Agent.TurnTimeout <= 0 {
		c.Agent.TurnTimeout = 60 * time.Second
	}
	if c.Agent.Timezone == "" {
		c.Agent.Timezone = "Asia/Kolkata"
	}
	if c.Agent.PageSize <= 0 {
		c.Agent.PageSize = 10
	}
	if c.Agent.ShowAllLimit <= 0 {
		c.Agent.ShowAllLimit = 50
	}

	if c.Fallback.SandboxTimeout <= 0 {
		c.Fallback.SandboxTimeout = 5 * time.Second
	}
}

// applyEnv 使用环境变量覆盖敏感字段。
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("SENTELLENT_SERVER_ADDRESS", &c.Server.Address)
	str("SENTELLENT_LOG_LEVEL", &c.Logging.Level)
	str("SENTELLENT_STORAGE_DRIVER", &c.Storage.Driver)
	str("SENTELLENT_STORAGE_DSN", &c.Storage.DSN)
	str("SENTELLENT_REDIS_ADDRESS", &c.Redis.Address)
	str("SENTELLENT_REDIS_PASSWORD", &c.Redis.Password)
	str("SENTELLENT_EVENTS_DRIVER", &c.Events.Driver)
	str("SENTELLENT_RABBITMQ_URL", &c.Events.RabbitMQURL)
	str("SENTELLENT_LLM_PROVIDER", &c.LLM.Provider)
	str("SENTELLENT_LLM_MODEL", &c.LLM.Model)
	str("SENTELLENT_LLM_API_KEY", &c.LLM.APIKey)
	str("SENTELLENT_LLM_BASE_URL", &c.LLM.BaseURL)
	str("SENTELLENT_SLACK_WEBHOOK_URL", &c.Alerting.SlackWebhookURL)

	if v, ok := lookup("SENTELLENT_API_TOKEN"); ok && strings.TrimSpace(v) != "" {
		c.Auth.Mode = "token"
		c.Auth.Tokens = append(c.Auth.Tokens, AuthTokenConfig{Name: "env", Token: strings.TrimSpace(v), Users: []string{"*"}})
	}

	if v, ok := lookup("SENTELLENT_REDIS_DB"); ok {
		if db, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			c.Redis.DB = db
		}
	}

	// 服务商约定的变量名作为最后的兜底。
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case "openai":
			str("OPENAI_API_KEY", &c.LLM.APIKey)
		case "anthropic":
			str("ANTHROPIC_API_KEY", &c.LLM.APIKey)
		}
	}
}

// Validate 检查配置之间的约束。
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "memory":
	case "sqlite", "mysql":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, fmt.Errorf("storage.dsn 不能为空 (driver=%s)", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的 storage.driver: %s", c.Storage.Driver))
	}

	switch c.Auth.Mode {
	case "disabled":
	case "token":
		if len(c.Auth.Tokens) == 0 {
			errs = append(errs, errors.New("auth.mode=token 需要至少一个 auth.tokens"))
		}
		for i, tok := range c.Auth.Tokens {
			if strings.TrimSpace(tok.Token) == "" {
				errs = append(errs, fmt.Errorf("auth.tokens[%d].token 不能为空", i))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的 auth.mode: %s", c.Auth.Mode))
	}

	switch c.Events.Driver {
	case "memory":
	case "redis":
		if c.Redis.Address == "" {
			errs = append(errs, errors.New("events.driver=redis 需要配置 redis.address"))
		}
	case "rabbitmq":
		if c.Events.RabbitMQURL == "" {
			errs = append(errs, errors.New("events.driver=rabbitmq 需要配置 events.rabbitmq_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的 events.driver: %s", c.Events.Driver))
	}

	switch c.LLM.Provider {
	case "none":
	case "openai", "anthropic":
		if c.LLM.APIKey == "" {
			errs = append(errs, fmt.Errorf("llm.api_key 不能为空 (provider=%s)", c.LLM.Provider))
		}
	case "exec":
		if c.LLM.Exec.Command == "" {
			errs = append(errs, errors.New("llm.exec.command 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的 llm.provider: %s", c.LLM.Provider))
	}

	if c.Agent.MaxIterations > 5 {
		errs = append(errs, errors.New("agent.max_iterations 不能超过 5"))
	}
	if c.Agent.MaxFallbackRetries > 5 {
		errs = append(errs, errors.New("agent.max_fallback_retries 不能超过 5"))
	}
	if c.Agent.ShowAllLimit < c.Agent.PageSize {
		errs = append(errs, errors.New("agent.show_all_limit 不能小于 agent.page_size"))
	}
	if _, err := time.LoadLocation(c.Agent.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("agent.timezone 无效: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置校验失败: %w", errors.Join(errs...))
	}
	return nil
}
