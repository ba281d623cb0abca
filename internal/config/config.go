package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App      AppConfig
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	AI       AIConfig
	Search   SearchConfig
	Sync     SyncConfig
	Dialogue DialogueConfig
	Agents   []AgentConfig
}

// AppConfig 应用配置
type AppConfig struct {
	Name        string
	Environment string
	Debug       bool
	// Timezone 用于提示词和标签中的时间显示；存储始终使用 UTC
	Timezone string
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string
	Port         int
	Mode         string
	ReadTimeout  int
	WriteTimeout int
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// AuthConfig 认证配置
// AdminPassword/UserPassword 支持明文或 bcrypt 哈希（$2 开头视为哈希）
type AuthConfig struct {
	AdminPassword   string
	UserPassword    string
	JWTSecret       string
	RequirePassword bool
	TokenTTLHours   int
}

// AIConfig AI配置
type AIConfig struct {
	Provider string
	OpenAI   OpenAIConfig
	Alibaba  AlibabaConfig
	DeepSeek DeepSeekConfig
}

// OpenAIConfig OpenAI配置
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout int
}

// AlibabaConfig 阿里云配置
type AlibabaConfig struct {
	AccessKeySecret string
	Model           string
	Timeout         int
}

// DeepSeekConfig DeepSeek配置
type DeepSeekConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout int
}

// Model 返回当前提供商的模型名
func (c *AIConfig) Model() string {
	var name string
	switch c.Provider {
	case "alibaba", "qwen", "dashscope":
		name = c.Alibaba.Model
	case "deepseek":
		name = c.DeepSeek.Model
	default:
		name = c.OpenAI.Model
	}
	if name == "" {
		name = "gpt-4o-mini"
	}
	return name
}

// SearchConfig 联网搜索工具配置
type SearchConfig struct {
	Enabled    bool
	MaxResults int
	Wikipedia  bool
}

// SyncConfig 会话同步配置（消息轮询与会话列表轮询使用不同间隔）
type SyncConfig struct {
	MessageIntervalSeconds int
	ListIntervalSeconds    int
	SessionTTLHours        int
}

// DialogueConfig 对话编排配置
type DialogueConfig struct {
	// ChainCap 连续 agent 消息上限（0 表示仅 @mention 触发一轮）
	ChainCap int
	// CrossReplyProbability 未被提及时触发另一 agent 的概率（0–0.5）
	CrossReplyProbability float64
	// ReflectionMinutes 默认反思时长（1–10 分钟）
	ReflectionMinutes int
	// MaxToolRounds 单次回复中工具调用的最大轮数
	MaxToolRounds int
}

// AgentConfig Agent 配置：名字固定，角色文本可在运行时编辑
type AgentConfig struct {
	Name string
	Role string
}

var globalConfig *Config

// Load 加载配置
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// 环境变量
	v.SetEnvPrefix("OPEN_DIALOGUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Agents) == 0 {
		cfg.Agents = defaultAgents()
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("config not loaded")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// GetAddr 获取服务器地址
func (c *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAddr 获取 Redis 地址
func (c *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Location 返回显示时区；无效或为空时回退 UTC
func (c *AppConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MessageInterval 消息同步间隔
func (c *SyncConfig) MessageInterval() time.Duration {
	return time.Duration(c.MessageIntervalSeconds) * time.Second
}

// ListInterval 会话列表同步间隔
func (c *SyncConfig) ListInterval() time.Duration {
	return time.Duration(c.ListIntervalSeconds) * time.Second
}

func defaultAgents() []AgentConfig {
	role := "You are an AI agent participating in a research on multicultural polyphony where you are one of the voices of modernity. " +
		"You are knowledgeable in the open dialogue psychotherapeutic approach, its goals and its philosophy."
	return []AgentConfig{
		{Name: "Gosha", Role: role},
		{Name: "Joshi", Role: role},
	}
}

func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "open-dialogue")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", true)
	v.SetDefault("app.timezone", "UTC")

	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "open_dialogue")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.maxLifetime", 300)

	// Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Auth
	v.SetDefault("auth.requirePassword", false)
	v.SetDefault("auth.tokenTtlHours", 24)

	// AI
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.openai.baseUrl", "https://api.openai.com/v1")
	v.SetDefault("ai.openai.model", "gpt-4o-mini")

	// Search
	v.SetDefault("search.enabled", true)
	v.SetDefault("search.maxResults", 5)
	v.SetDefault("search.wikipedia", false)

	// Sync
	v.SetDefault("sync.messageIntervalSeconds", 2)
	v.SetDefault("sync.listIntervalSeconds", 10)
	v.SetDefault("sync.sessionTtlHours", 24)

	// Dialogue
	v.SetDefault("dialogue.chainCap", 0)
	v.SetDefault("dialogue.crossReplyProbability", 0.35)
	v.SetDefault("dialogue.reflectionMinutes", 5)
	v.SetDefault("dialogue.maxToolRounds", 5)
}
