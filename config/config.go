package config

import (
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Chat     ChatConfig     `yaml:"chat"`
	Auth     AuthConfig     `yaml:"auth"`
	Redis    RedisConfig    `yaml:"redis"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release
}

type DatabaseConfig struct {
	Type string `yaml:"type"` // sqlite, mysql, postgres
	DSN  string `yaml:"dsn"`
}

type LLMConfig struct {
	Provider  string `yaml:"provider"` // openai(eino-ext), http(内置客户端)
	APIURL    string `yaml:"api_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// PipelineConfig 诊断流水线配置
type PipelineConfig struct {
	StageTimeout time.Duration `yaml:"stage_timeout"` // 0 表示不限制
	Stream       bool          `yaml:"stream"`        // 后台任务是否使用流式调用
	Workers      int           `yaml:"workers"`
	MaxAttempts  int           `yaml:"max_attempts"`
	JobTimeout   time.Duration `yaml:"job_timeout"`
	PromptFile   string        `yaml:"prompt_file"` // 覆盖内置角色提示词
	RawTextLimit int           `yaml:"raw_text_limit"`
}

type ChatConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	HistoryLimit int           `yaml:"history_limit"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"` // Supabase JWT secret，为空时进入开发模式
	Issuer    string `yaml:"issuer"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

var (
	cfg  *Config
	once sync.Once
)

func GetConfig() *Config {
	once.Do(func() {
		cfg = Load(configPath())
	})
	return cfg
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}

// Default 返回内置默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			DSN:  "./data/radiance.db",
		},
		LLM: LLMConfig{
			Provider:  "openai",
			APIURL:    "https://api.openai.com/v1",
			Model:     "gpt-4o",
			MaxTokens: 4096,
		},
		Pipeline: PipelineConfig{
			StageTimeout: 3 * time.Minute,
			Stream:       true,
			Workers:      2,
			MaxAttempts:  1,
			JobTimeout:   30 * time.Minute,
			RawTextLimit: 2000,
		},
		Chat: ChatConfig{
			Timeout:      30 * time.Second,
			HistoryLimit: 20,
		},
		Redis: RedisConfig{
			Channel: "radiance:session-events",
		},
	}
}

// Load 读取配置文件并应用环境变量覆盖，文件不存在时使用默认值
func Load(path string) *Config {
	config := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		yaml.Unmarshal(data, config)
	}

	// 环境变量优先级高于配置文件
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.LLM.APIURL = baseURL
	}
	if model := os.Getenv("OPENAI_MODEL_NAME"); model != "" {
		config.LLM.Model = model
	}
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}

	// 数据库环境变量
	if dbType := os.Getenv("DB_TYPE"); dbType != "" {
		config.Database.Type = dbType
	}
	if dbDSN := os.Getenv("DB_DSN"); dbDSN != "" {
		config.Database.DSN = dbDSN
	}

	if port := os.Getenv("PORT"); port != "" {
		config.Server.Port = port
	}
	if secret := os.Getenv("SUPABASE_JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if workers := os.Getenv("PIPELINE_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil && n > 0 {
			config.Pipeline.Workers = n
		}
	}
	if timeout := os.Getenv("CHAT_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Chat.Timeout = d
		}
	}

	if config.Pipeline.Workers <= 0 {
		config.Pipeline.Workers = 1
	}
	if config.Pipeline.MaxAttempts <= 0 {
		config.Pipeline.MaxAttempts = 1
	}

	return config
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
