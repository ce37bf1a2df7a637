package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	TTS        TTSConfig        `yaml:"tts"`
	Simulation SimulationConfig `yaml:"simulation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
	// AllowedOrigins 是 WebSocket/CORS 的来源白名单，留空表示只允许本地开发端口。
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TTSConfig 语音合成服务配置（Waves 风格的 HTTP 流式接口）。
type TTSConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`
	SampleRate   int           `yaml:"sample_rate"`
	ScammerVoice string        `yaml:"scammer_voice"`
	SeniorVoice  string        `yaml:"senior_voice"`
	Timeout      time.Duration `yaml:"timeout"`
	// MaxTextLength 是单次合成请求的字符上限，超长文本按句切分。
	MaxTextLength int `yaml:"max_text_length"`
}

// SimulationConfig 仿真缺省参数，客户端 start 指令可覆盖 max_turns/enable_voice。
type SimulationConfig struct {
	DefaultMaxTurns     int           `yaml:"default_max_turns"`
	PersuasionThreshold float64       `yaml:"persuasion_threshold"`
	TurnEventDelay      time.Duration `yaml:"turn_event_delay"`
	PlaybackAckTimeout  time.Duration `yaml:"playback_ack_timeout"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	File          string `yaml:"file"`
	EnableConsole bool   `yaml:"enable_console"`
}

// Load 从文件加载配置并用环境变量覆盖敏感项。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// 敏感信息只从环境变量覆盖，不要求写进配置文件。
	if key := os.Getenv("SMALLEST_API_KEY"); key != "" {
		cfg.TTS.APIKey = key
	}
	if voice := os.Getenv("SCAMMER_VOICE"); voice != "" {
		cfg.TTS.ScammerVoice = voice
	}
	if voice := os.Getenv("SENIOR_VOICE"); voice != "" {
		cfg.TTS.SeniorVoice = voice
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Default 返回所有字段都可用的缺省配置，便于无配置文件直接启动。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			PingInterval: 30 * time.Second,
		},
		TTS: TTSConfig{
			BaseURL:       "https://waves-api.smallest.ai/api/v1",
			Model:         "lightning-v2",
			SampleRate:    24000,
			ScammerVoice:  "albus",
			SeniorVoice:   "martha",
			Timeout:       20 * time.Second,
			MaxTextLength: 250,
		},
		Simulation: SimulationConfig{
			DefaultMaxTurns:     15,
			PersuasionThreshold: 0.9,
			TurnEventDelay:      200 * time.Millisecond,
			// 播完回执的等待上限还会按预计播放时长收紧，见 bridge。
			PlaybackAckTimeout: 45 * time.Second,
		},
		Logging: LoggingConfig{
			Level:         "info",
			EnableConsole: true,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.TTS.SampleRate <= 0 {
		return fmt.Errorf("invalid tts sample rate: %d", c.TTS.SampleRate)
	}
	if c.Simulation.DefaultMaxTurns <= 0 {
		return fmt.Errorf("default_max_turns must be positive")
	}
	if c.Simulation.PersuasionThreshold <= 0 || c.Simulation.PersuasionThreshold > 1 {
		return fmt.Errorf("persuasion_threshold must be in (0, 1]")
	}
	return nil
}

// Addr 拼出 HTTP 监听地址。
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
