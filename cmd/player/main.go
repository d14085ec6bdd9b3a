package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/aiwuxian/codelove/internal/client"
	"github.com/aiwuxian/codelove/internal/config"
	"github.com/aiwuxian/codelove/internal/logger"
	"github.com/aiwuxian/codelove/internal/models"
	"github.com/aiwuxian/codelove/internal/playback"
	"github.com/aiwuxian/codelove/internal/tui"
)

func main() {
	configPath := flag.String("config", "config.yml", "配置文件路径")
	story := flag.String("story", "", "起始故事ID（默认取配置）")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	pc := cfg.Player
	if *story != "" {
		pc.StartStory = models.StoryID(*story)
	}

	// 终端被界面占用，日志写文件
	zapLog, err := logger.New(logger.Config{Level: cfg.Log.Level, Encoding: cfg.Log.Encoding, OutputPath: pc.LogPath})
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer zapLog.Sync()

	api := client.New(pc.ServerURL, pc.Token, pc.PlayerID, pc.RequestTimeout, zapLog)

	bridge := tui.NewBridge()
	engine := playback.New(api, bridge.Wire(playback.Options{
		Logger:              zapLog,
		TypingInterval:      pc.TypingInterval,
		CharsPerTick:        pc.CharsPerTick,
		IllustrationDefault: pc.IllustrationDefault,
		EndingDelay:         pc.EndingDelay,
		RequestTimeout:      pc.RequestTimeout,
		BlockFallback:       pc.BlockFallback,
	}))
	defer engine.Close()

	zapLog.Info("启动播放器",
		zap.String("server", pc.ServerURL),
		zap.String("player_id", pc.PlayerID),
		zap.String("story_id", pc.StartStory.String()))

	model := tui.New(engine, api, bridge, tui.Config{
		StartStory:     pc.StartStory,
		QuickSlot:      pc.QuickSlot,
		RequestTimeout: pc.RequestTimeout,
	}, zapLog)

	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		zapLog.Error("界面异常退出", zap.Error(err))
		fmt.Fprintf(os.Stderr, "运行失败: %v\n", err)
		os.Exit(1)
	}
}
