package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"sentinel-agent-go/src/configs"
	"sentinel-agent-go/src/configs/database"
	"sentinel-agent-go/src/control"
	"sentinel-agent-go/src/core/state"
	"sentinel-agent-go/src/core/utils"
	"sentinel-agent-go/src/feed"
	"sentinel-agent-go/src/moderation"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func LoadConfigAndLogger() (*configs.Config, *utils.Logger, error) {
	// 加载配置,默认使用.config.yaml
	config, configPath, err := configs.LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	// 初始化日志系统
	logger, err := utils.NewLogger(config)
	if err != nil {
		return nil, nil, err
	}
	logger.Info(fmt.Sprintf("日志系统初始化成功, 配置文件路径: %s", configPath))

	return config, logger, nil
}

func StartFeedServer(config *configs.Config, settings *state.SettingsStore, events *state.EventLog, logger *utils.Logger, g *errgroup.Group, groupCtx context.Context) (*feed.Server, error) {
	client := moderation.NewClient(&config.Moderation, logger)
	feedServer := feed.NewServer(config, settings, events, client, logger)

	g.Go(func() error {
		// 监听关闭信号
		go func() {
			<-groupCtx.Done()
			logger.Info("收到关闭信号，开始关闭页面接入服务...")
			if err := feedServer.Stop(); err != nil {
				logger.Error("页面接入服务关闭失败", err)
			} else {
				logger.Info("页面接入服务已优雅关闭")
			}
		}()

		if err := feedServer.Start(groupCtx); err != nil {
			if groupCtx.Err() != nil {
				return nil // 正常关闭
			}
			logger.Error("页面接入服务运行失败", err)
			return err
		}
		return nil
	})

	logger.Info("页面接入服务已成功启动")
	return feedServer, nil
}

func StartHttpServer(config *configs.Config, settings *state.SettingsStore, events *state.EventLog, feedServer *feed.Server, logger *utils.Logger, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	// 初始化Gin引擎
	if config.Log.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.SetTrustedProxies([]string{"0.0.0.0"})

	// API路由全部挂载到/api前缀下
	apiGroup := router.Group("/api")

	controlService := control.NewService(config, settings, events, feedServer, logger)
	if err := controlService.Start(groupCtx, router, apiGroup); err != nil {
		logger.Error("控制面服务启动失败", err)
		return nil, err
	}

	// 启动HTTP服务器
	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(config.Web.Port),
		Handler: router,
	}

	g.Go(func() error {
		go func() {
			<-groupCtx.Done()
			logger.Info("收到关闭信号，开始关闭HTTP服务...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP服务关闭失败", err)
			} else {
				logger.Info("HTTP服务已优雅关闭")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if groupCtx.Err() != nil {
				return nil
			}
			logger.Error("HTTP服务运行失败", err)
			return err
		}
		return nil
	})

	logger.Info(fmt.Sprintf("HTTP服务已成功启动于 :%d", config.Web.Port))
	return httpServer, nil
}

func GracefulShutdown(done <-chan os.Signal, logger *utils.Logger, cancel context.CancelFunc, g *errgroup.Group) {
	sig := <-done
	logger.Info(fmt.Sprintf("接收到系统信号: %v, 开始优雅关闭服务", sig))
	cancel()

	if err := g.Wait(); err != nil {
		logger.Error("服务关闭过程中出现错误", err)
		os.Exit(1)
	}

	logger.Info("所有服务已优雅关闭")
}

func main() {
	// 加载 .env 文件
	godotenv.Load()

	config, logger, err := LoadConfigAndLogger()
	if err != nil {
		fmt.Println("加载配置或初始化日志失败:", err)
		os.Exit(1)
	}
	defer logger.Close()

	// 初始化数据库，持久化监控开关
	db, dbType, err := database.InitDB()
	if err != nil {
		logger.Error("数据库初始化失败", err)
		os.Exit(1)
	}
	logger.Info(fmt.Sprintf("数据库连接成功, 类型: %s", dbType))

	settings, err := state.NewSettingsStore(db, logger)
	if err != nil {
		logger.Error("初始化设置存储失败", err)
		os.Exit(1)
	}

	events, err := state.NewEventLog(db, logger)
	if err != nil {
		logger.Error("初始化命中记录存储失败", err)
		os.Exit(1)
	}

	// 创建可取消的上下文和errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, groupCtx := errgroup.WithContext(ctx)

	feedServer, err := StartFeedServer(config, settings, events, logger, g, groupCtx)
	if err != nil {
		logger.Error("页面接入服务启动失败", err)
		os.Exit(1)
	}

	if config.Web.Enabled {
		if _, err := StartHttpServer(config, settings, events, feedServer, logger, g, groupCtx); err != nil {
			logger.Error("HTTP服务启动失败", err)
			os.Exit(1)
		}
	}

	// 监听系统信号
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	GracefulShutdown(done, logger, cancel, g)
}
