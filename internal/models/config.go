package models

import "time"

// Config 配置
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Judge    JudgeConfig    `yaml:"judge"`
	Game     GameConfig     `yaml:"game"`
	Player   PlayerConfig   `yaml:"player"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port        string   `yaml:"port"`
	Host        string   `yaml:"host"`
	APIToken    string   `yaml:"api_token" envconfig:"API_TOKEN"` // 为空时不校验
	CORSOrigins []string `yaml:"cors_origins" envconfig:"CORS_ORIGINS"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type JudgeConfig struct {
	Provider string        `yaml:"provider"` // judge0 / openai
	BaseURL  string        `yaml:"base_url" envconfig:"BASE_URL"`
	APIKey   string        `yaml:"api_key" envconfig:"API_KEY"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

type GameConfig struct {
	SeedDir       string `yaml:"seed_dir" envconfig:"SEED_DIR"`
	PassAffinity  int    `yaml:"pass_affinity" envconfig:"PASS_AFFINITY"`
	FailAffinity  int    `yaml:"fail_affinity" envconfig:"FAIL_AFFINITY"`
	MinAffinity   int    `yaml:"min_affinity" envconfig:"MIN_AFFINITY"`
	MaxAffinity   int    `yaml:"max_affinity" envconfig:"MAX_AFFINITY"`
	StartAffinity int    `yaml:"start_affinity" envconfig:"START_AFFINITY"`
}

type PlayerConfig struct {
	ServerURL           string        `yaml:"server_url" envconfig:"SERVER_URL"`
	PlayerID            string        `yaml:"player_id" envconfig:"PLAYER_ID"`
	Token               string        `yaml:"token"`
	StartStory          StoryID       `yaml:"start_story" envconfig:"START_STORY"`
	TypingInterval      time.Duration `yaml:"typing_interval" envconfig:"TYPING_INTERVAL"`
	CharsPerTick        int           `yaml:"chars_per_tick" envconfig:"CHARS_PER_TICK"`
	IllustrationDefault time.Duration `yaml:"illustration_default"`
	EndingDelay         time.Duration `yaml:"ending_delay"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	BlockFallback       bool          `yaml:"block_fallback"`
	QuickSlot           int           `yaml:"quick_slot"`
	LogPath             string        `yaml:"log_path" envconfig:"LOG_PATH"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}
