package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aiwuxian/codelove/internal/api"
	"github.com/aiwuxian/codelove/internal/config"
	"github.com/aiwuxian/codelove/internal/logger"
	"github.com/aiwuxian/codelove/internal/services"
	"github.com/aiwuxian/codelove/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	zapLog, err := logger.New(logger.Config{Level: cfg.Log.Level, Encoding: cfg.Log.Encoding})
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer zapLog.Sync()

	// 初始化数据库
	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		zapLog.Fatal("初始化数据库失败", zap.Error(err))
	}
	defer store.Close()

	// 初始化服务
	ruleEngine := services.NewRuleEngine(cfg.Game)
	metaService := services.NewMetaService(store, ruleEngine, zapLog)
	storyService := services.NewStoryService(store, zapLog)
	choiceService := services.NewChoiceService(storyService, metaService, zapLog)
	routeService := services.NewRouteService(storyService, metaService, ruleEngine, zapLog)

	judge, err := services.NewJudge(cfg.Judge, zapLog)
	if err != nil {
		zapLog.Fatal("初始化评测后端失败", zap.Error(err))
	}
	judgeService := services.NewJudgeService(judge, storyService, metaService, ruleEngine, store, zapLog)

	// 导入故事包
	n, err := storyService.SeedFromDir(cfg.Game.SeedDir)
	if err != nil {
		zapLog.Fatal("导入故事包失败", zap.String("dir", cfg.Game.SeedDir), zap.Error(err))
	}
	zapLog.Info("故事包导入完成", zap.Int("stories", n))

	handler := api.NewHandler(storyService, choiceService, judgeService, routeService, metaService, zapLog)

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(handler, cfg.Server, zapLog)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zapLog.Info("CodeLove 服务启动",
			zap.String("addr", addr),
			zap.String("judge", judge.Name()),
			zap.Bool("auth", cfg.Server.APIToken != ""))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("启动服务器失败", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLog.Info("正在关闭服务器...")

	// 评测请求可能较慢，给足时间
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Judge.Timeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("服务器关闭失败", zap.Error(err))
	}
	zapLog.Info("服务器已退出")
}
