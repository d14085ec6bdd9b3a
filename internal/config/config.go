package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiwuxian/codelove/internal/models"
)

// EnvPrefix 环境变量前缀，例如 CODELOVE_SERVER_PORT
const EnvPrefix = "CODELOVE"

// Default 默认配置
func Default() *models.Config {
	return &models.Config{
		Server: models.ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		Database: models.DatabaseConfig{Path: "data/codelove.db"},
		Judge: models.JudgeConfig{
			Provider: "judge0",
			BaseURL:  "https://ce.judge0.com",
			Model:    "gpt-4o-mini",
			Timeout:  20 * time.Second,
		},
		Game: models.GameConfig{
			SeedDir:       "stories",
			PassAffinity:  5,
			FailAffinity:  -2,
			MinAffinity:   0,
			MaxAffinity:   100,
			StartAffinity: 50,
		},
		Player: models.PlayerConfig{
			ServerURL:           "http://localhost:8080",
			PlayerID:            "player-1",
			StartStory:          "1",
			TypingInterval:      25 * time.Millisecond,
			CharsPerTick:        1,
			IllustrationDefault: 3 * time.Second,
			EndingDelay:         5 * time.Second,
			RequestTimeout:      15 * time.Second,
			LogPath:             "player.log",
		},
		Log: models.LogConfig{Level: "info", Encoding: "json"},
	}
}

// Load 默认值 < yaml 文件 < .env / 环境变量
func Load(path string) (*models.Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("解析配置文件 %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("读取配置文件 %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("读取环境变量: %w", err)
	}

	if cfg.Game.MinAffinity > cfg.Game.MaxAffinity {
		return nil, fmt.Errorf("好感度范围无效: %d > %d", cfg.Game.MinAffinity, cfg.Game.MaxAffinity)
	}
	return cfg, nil
}
