package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"auditwatch/internal/catalog"
)

const (
	defaultDeliveryWorkers = 4
	maskedSecret           = "******"
)

// Config 应用配置
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Database      DatabaseConfig      `yaml:"database" json:"database"`
	Logger        LoggerConfig        `yaml:"logger" json:"logger"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch" json:"elasticsearch"`
	Redis         RedisConfig         `yaml:"redis" json:"redis"`
	Notify        NotifyConfig        `yaml:"notify" json:"notify"`
	Engine        EngineConfig        `yaml:"engine" json:"engine"`
	Catalog       CatalogConfig       `yaml:"catalog" json:"catalog"`
	Events        EventsConfig        `yaml:"events" json:"events"`
}

type ServerConfig struct {
	HTTPPort  int             `yaml:"http_port" json:"http_port"`
	Host      string          `yaml:"host" json:"host"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" json:"enabled"`
	RPS     float64 `yaml:"rps" json:"rps"`     // 每个 IP 每秒请求数
	Burst   int     `yaml:"burst" json:"burst"` // 突发容量
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver" json:"driver"`
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	User         string `yaml:"user" json:"user"`
	Password     string `yaml:"password" json:"password"`
	DBName       string `yaml:"dbname" json:"dbname"`
	SSLMode      string `yaml:"sslmode" json:"sslmode"`
	MaxIdleConns int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns int    `yaml:"max_open_conns" json:"max_open_conns"`
	LogLevel     string `yaml:"log_level" json:"log_level"` // gorm: silent, error, warn, info
}

type LoggerConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Output string `yaml:"output" json:"output"` // stdout, stderr, or file path
}

type ElasticsearchConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`           // 是否启用 Elasticsearch
	Addresses   []string `yaml:"addresses" json:"addresses"`       // ES 节点地址，如 ["http://localhost:9200"]
	Username    string   `yaml:"username" json:"username"`         // ES 用户名
	Password    string   `yaml:"password" json:"password"`         // ES 密码
	IndexPrefix string   `yaml:"index_prefix" json:"index_prefix"` // 索引前缀，如 "auditwatch-events"
	// 异步写入缓冲
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
	// 索引前按来源 IP 补充地理位置
	GeoIP GeoIPConfig `yaml:"geoip" json:"geoip"`
}

type GeoIPConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	APIURL  string `yaml:"api_url" json:"api_url"`
	Timeout int    `yaml:"timeout" json:"timeout"` // seconds
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
}

type NotifyConfig struct {
	// Site is the installation name shown in message subjects.
	Site string     `yaml:"site" json:"site"`
	SMTP SMTPConfig `yaml:"smtp" json:"smtp"`
	SMS  SMSConfig  `yaml:"sms" json:"sms"`
}

type SMTPConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	From     string `yaml:"from" json:"from"`
	Security string `yaml:"security" json:"security"` // none, starttls, tls
	Timeout  int    `yaml:"timeout" json:"timeout"`   // seconds
}

type SMSConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	BaseURL    string `yaml:"base_url" json:"base_url"`
	AccountSID string `yaml:"account_sid" json:"account_sid"`
	AuthToken  string `yaml:"auth_token" json:"auth_token"`
	From       string `yaml:"from" json:"from"`
	Timeout    int    `yaml:"timeout" json:"timeout"` // seconds
}

type EngineConfig struct {
	RuleCacheTTL int    `yaml:"rule_cache_ttl" json:"rule_cache_ttl"` // seconds
	CounterTTL   int    `yaml:"counter_ttl" json:"counter_ttl"`       // seconds
	DateFormat   string `yaml:"date_format" json:"date_format"`
	TimeFormat   string `yaml:"time_format" json:"time_format"`
	Timezone     string `yaml:"timezone" json:"timezone"`
	// 0 表示同步发送
	DeliveryWorkers int    `yaml:"delivery_workers" json:"delivery_workers"`
	QueueSize       int    `yaml:"queue_size" json:"queue_size"`
	JournalDir      string `yaml:"journal_dir" json:"journal_dir"`
	// LoginHistory selects where first logins are remembered: memory, database or redis.
	LoginHistory   string `yaml:"login_history" json:"login_history"`
	DefaultSubject string `yaml:"default_subject" json:"default_subject"`
	DefaultBody    string `yaml:"default_body" json:"default_body"`
}

type CatalogConfig struct {
	PostTypes  []string         `yaml:"post_types" json:"post_types"`
	UserRoles  []string         `yaml:"user_roles" json:"user_roles"`
	Objects    []catalog.Option `yaml:"objects" json:"objects"`
	EventTypes []catalog.Option `yaml:"event_types" json:"event_types"`
}

type EventsConfig struct {
	// File is an optional YAML file adding or overriding event kinds.
	File string `yaml:"file" json:"file"`
}

// LoadFromFile 从文件加载配置
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// delivery_workers: 0 is meaningful, so its default is set before parsing
	config := Config{Engine: EngineConfig{DeliveryWorkers: defaultDeliveryWorkers}}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// 设置默认值
	setDefaults(&config)

	return &config, nil
}

// SaveToFile 保存配置到文件
func SaveToFile(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load 从环境变量加载配置
func Load() *Config {
	config := &Config{
		Server: ServerConfig{
			HTTPPort: getEnvInt("HTTP_PORT", 8080),
			Host:     getEnv("HOST", "0.0.0.0"),
			RateLimit: RateLimitConfig{
				Enabled: getEnvBool("RATE_LIMIT_ENABLED", true),
				RPS:     float64(getEnvInt("RATE_LIMIT_RPS", 50)),
				Burst:   getEnvInt("RATE_LIMIT_BURST", 100),
			},
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "sqlite"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvInt("DB_PORT", 3306),
			User:         getEnv("DB_USER", "root"),
			Password:     getEnv("DB_PASSWORD", ""),
			DBName:       getEnv("DB_NAME", "auditwatch.db"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 50),
			LogLevel:     getEnv("DB_LOG_LEVEL", "warn"),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:     getEnvBool("ES_ENABLED", false),
			Addresses:   getEnvSlice("ES_ADDRESSES", []string{"http://localhost:9200"}),
			Username:    getEnv("ES_USERNAME", ""),
			Password:    getEnv("ES_PASSWORD", ""),
			IndexPrefix: getEnv("ES_INDEX_PREFIX", "auditwatch-events"),
			BufferSize:  getEnvInt("ES_BUFFER_SIZE", 1000),
			GeoIP: GeoIPConfig{
				Enabled: getEnvBool("GEOIP_ENABLED", false),
				APIURL:  getEnv("GEOIP_API_URL", "http://ip-api.com/json/"),
				Timeout: getEnvInt("GEOIP_TIMEOUT", 10),
			},
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Notify: NotifyConfig{
			Site: getEnv("NOTIFY_SITE", "auditwatch"),
			SMTP: SMTPConfig{
				Enabled:  getEnvBool("SMTP_ENABLED", false),
				Host:     getEnv("SMTP_HOST", "localhost"),
				Port:     getEnvInt("SMTP_PORT", 587),
				Username: getEnv("SMTP_USERNAME", ""),
				Password: getEnv("SMTP_PASSWORD", ""),
				From:     getEnv("SMTP_FROM", ""),
				Security: getEnv("SMTP_SECURITY", "starttls"),
				Timeout:  getEnvInt("SMTP_TIMEOUT", 10),
			},
			SMS: SMSConfig{
				Enabled:    getEnvBool("SMS_ENABLED", false),
				BaseURL:    getEnv("SMS_BASE_URL", "https://api.twilio.com"),
				AccountSID: getEnv("SMS_ACCOUNT_SID", ""),
				AuthToken:  getEnv("SMS_AUTH_TOKEN", ""),
				From:       getEnv("SMS_FROM", ""),
				Timeout:    getEnvInt("SMS_TIMEOUT", 10),
			},
		},
		Engine: EngineConfig{
			RuleCacheTTL:    getEnvInt("ENGINE_RULE_CACHE_TTL", 43200),
			CounterTTL:      getEnvInt("ENGINE_COUNTER_TTL", 43200),
			DateFormat:      getEnv("ENGINE_DATE_FORMAT", "2006-01-02"),
			TimeFormat:      getEnv("ENGINE_TIME_FORMAT", "15:04"),
			Timezone:        getEnv("ENGINE_TIMEZONE", "Local"),
			DeliveryWorkers: getEnvInt("ENGINE_DELIVERY_WORKERS", defaultDeliveryWorkers),
			QueueSize:       getEnvInt("ENGINE_QUEUE_SIZE", 1000),
			JournalDir:      getEnv("ENGINE_JOURNAL_DIR", "./logs/delivery"),
			LoginHistory:    getEnv("ENGINE_LOGIN_HISTORY", "database"),
		},
		Events: EventsConfig{
			File: getEnv("EVENTS_FILE", ""),
		},
	}
	setDefaults(config)
	return config
}

// setDefaults 设置默认值
func setDefaults(config *Config) {
	if config.Server.HTTPPort == 0 {
		config.Server.HTTPPort = 8080
	}
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.RateLimit.RPS == 0 {
		config.Server.RateLimit.RPS = 50
	}
	if config.Server.RateLimit.Burst == 0 {
		config.Server.RateLimit.Burst = 100
	}
	if config.Database.Driver == "" {
		config.Database.Driver = "sqlite"
	}
	if config.Database.DBName == "" {
		config.Database.DBName = "auditwatch.db"
	}
	if config.Database.LogLevel == "" {
		config.Database.LogLevel = "warn"
	}
	if config.Logger.Level == "" {
		config.Logger.Level = "info"
	}
	if config.Logger.Output == "" {
		config.Logger.Output = "stdout"
	}
	if config.Elasticsearch.IndexPrefix == "" {
		config.Elasticsearch.IndexPrefix = "auditwatch-events"
	}
	if config.Elasticsearch.BufferSize == 0 {
		config.Elasticsearch.BufferSize = 1000
	}
	if config.Elasticsearch.GeoIP.APIURL == "" {
		config.Elasticsearch.GeoIP.APIURL = "http://ip-api.com/json/"
	}
	if config.Elasticsearch.GeoIP.Timeout == 0 {
		config.Elasticsearch.GeoIP.Timeout = 10
	}
	if config.Redis.Addr == "" {
		config.Redis.Addr = "localhost:6379"
	}
	if config.Notify.Site == "" {
		config.Notify.Site = "auditwatch"
	}
	if config.Notify.SMTP.Port == 0 {
		config.Notify.SMTP.Port = 587
	}
	if config.Notify.SMTP.Security == "" {
		config.Notify.SMTP.Security = "starttls"
	}
	if config.Notify.SMTP.Timeout == 0 {
		config.Notify.SMTP.Timeout = 10
	}
	if config.Notify.SMS.BaseURL == "" {
		config.Notify.SMS.BaseURL = "https://api.twilio.com"
	}
	if config.Notify.SMS.Timeout == 0 {
		config.Notify.SMS.Timeout = 10
	}
	if config.Engine.RuleCacheTTL == 0 {
		config.Engine.RuleCacheTTL = 43200
	}
	if config.Engine.CounterTTL == 0 {
		config.Engine.CounterTTL = 43200
	}
	if config.Engine.DateFormat == "" {
		config.Engine.DateFormat = "2006-01-02"
	}
	if config.Engine.TimeFormat == "" {
		config.Engine.TimeFormat = "15:04"
	}
	if config.Engine.Timezone == "" {
		config.Engine.Timezone = "Local"
	}
	if config.Engine.QueueSize == 0 {
		config.Engine.QueueSize = 1000
	}
	if config.Engine.JournalDir == "" {
		config.Engine.JournalDir = "./logs/delivery"
	}
	if config.Engine.LoginHistory == "" {
		config.Engine.LoginHistory = "database"
	}
}

// RuleCacheTTLDuration returns the rule list cache lifetime.
func (e EngineConfig) RuleCacheTTLDuration() time.Duration {
	return time.Duration(e.RuleCacheTTL) * time.Second
}

// CounterTTLDuration returns how long a failed-login counter lives.
func (e EngineConfig) CounterTTLDuration() time.Duration {
	return time.Duration(e.CounterTTL) * time.Second
}

// Location resolves the configured timezone; "Local" and "" mean the process zone.
func (e EngineConfig) Location() (*time.Location, error) {
	if e.Timezone == "" || e.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(e.Timezone)
}

// Source returns the catalog values, falling back per list to the built-in defaults.
func (c CatalogConfig) Source() catalog.Source {
	src := catalog.DefaultSource()
	if len(c.PostTypes) > 0 {
		src.PostTypes = c.PostTypes
	}
	if len(c.UserRoles) > 0 {
		src.UserRoles = c.UserRoles
	}
	if len(c.Objects) > 0 {
		src.Objects = c.Objects
	}
	if len(c.EventTypes) > 0 {
		src.EventTypes = c.EventTypes
	}
	return src
}

// Masked returns a copy safe to expose over the API.
func (c *Config) Masked() Config {
	out := *c
	out.Database.Password = mask(out.Database.Password)
	out.Elasticsearch.Password = mask(out.Elasticsearch.Password)
	out.Redis.Password = mask(out.Redis.Password)
	out.Notify.SMTP.Password = mask(out.Notify.SMTP.Password)
	out.Notify.SMS.AuthToken = mask(out.Notify.SMS.AuthToken)
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return maskedSecret
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		var intVal int
		if _, err := fmt.Sscanf(val, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		return false
	}
	return defaultVal
}

func getEnvSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		// 支持逗号分隔的字符串
		if result := splitAndTrim(val, ","); len(result) > 0 {
			return result
		}
	}
	return defaultVal
}

// splitAndTrim 分割字符串并去除空白
func splitAndTrim(s, sep string) []string {
	var result []string
	for _, part := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	// 验证服务器配置
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.RPS <= 0 || c.Server.RateLimit.Burst < 1) {
		return fmt.Errorf("rate limit rps and burst must be positive")
	}

	// 验证数据库配置
	validDrivers := map[string]bool{
		"sqlite":   true,
		"mysql":    true,
		"postgres": true,
	}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Database.Driver != "sqlite" {
		if c.Database.Host == "" {
			return fmt.Errorf("database host cannot be empty for %s", c.Database.Driver)
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user cannot be empty for %s", c.Database.Driver)
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("database name cannot be empty")
		}
	} else if c.Database.DBName == "" {
		return fmt.Errorf("database file path cannot be empty for sqlite")
	}

	// 验证日志配置
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logger.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logger.Level)
	}

	// 验证Elasticsearch配置
	if c.Elasticsearch.Enabled && len(c.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("elasticsearch addresses cannot be empty when enabled")
	}
	if c.Elasticsearch.GeoIP.Enabled && c.Elasticsearch.GeoIP.APIURL == "" {
		return fmt.Errorf("geoip api_url cannot be empty when enabled")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr cannot be empty when enabled")
	}

	// 验证通知通道配置
	if c.Notify.SMTP.Enabled {
		if c.Notify.SMTP.Host == "" || c.Notify.SMTP.From == "" {
			return fmt.Errorf("smtp host and from are required when smtp is enabled")
		}
		switch c.Notify.SMTP.Security {
		case "none", "starttls", "tls":
		default:
			return fmt.Errorf("invalid smtp security mode: %s", c.Notify.SMTP.Security)
		}
	}
	if c.Notify.SMS.Enabled && (c.Notify.SMS.AccountSID == "" || c.Notify.SMS.From == "") {
		return fmt.Errorf("sms account_sid and from are required when sms is enabled")
	}

	// 验证引擎配置
	if c.Engine.RuleCacheTTL < 0 || c.Engine.CounterTTL < 0 {
		return fmt.Errorf("engine ttl values cannot be negative")
	}
	if c.Engine.DeliveryWorkers < 0 {
		return fmt.Errorf("engine delivery workers cannot be negative")
	}
	if c.Engine.QueueSize < 1 {
		return fmt.Errorf("engine queue size must be at least 1")
	}
	switch c.Engine.LoginHistory {
	case "memory", "database":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("login history redis requires redis to be enabled")
		}
	default:
		return fmt.Errorf("invalid login history backend: %s", c.Engine.LoginHistory)
	}
	if _, err := c.Engine.Location(); err != nil {
		return fmt.Errorf("invalid engine timezone %q: %w", c.Engine.Timezone, err)
	}

	return nil
}
