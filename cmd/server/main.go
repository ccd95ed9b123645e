package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/rucksense/internal/api/geocode"
	"github.com/langchou/rucksense/internal/api/handlers"
	"github.com/langchou/rucksense/internal/api/weather"
	"github.com/langchou/rucksense/internal/calorie"
	"github.com/langchou/rucksense/internal/config"
	"github.com/langchou/rucksense/internal/fusion"
	"github.com/langchou/rucksense/internal/motion"
	"github.com/langchou/rucksense/internal/sampling"
	"github.com/langchou/rucksense/internal/service"
	"github.com/langchou/rucksense/internal/terrain"
	"github.com/langchou/rucksense/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting Rucksense", zap.String("port", cfg.ServerPort))

	// 创建海拔融合引擎（气压计缺失时以 GPS-only 降级模式运行）
	fusionEngine, err := fusion.NewEngine(fusion.Options{
		ProcessNoise:        cfg.ProcessNoise,
		BaroNoise:           cfg.BaroNoise,
		GPSNoiseFloor:       cfg.GPSNoiseFloor,
		CalibrationAccuracy: cfg.CalibrationAccuracy,
		PressureStability:   cfg.PressureStability,
		CalibrationTimeout:  cfg.CalibrationTimeout,
	}, fusion.Capabilities{
		AltimeterAvailable: cfg.AltimeterAvailable,
		Authorized:         cfg.LocationAuthorized,
	}, logger)
	if err != nil {
		logger.Warn("Elevation fusion running degraded", zap.Error(err))
	}

	// 创建运动分析器
	analyzer := motion.NewAnalyzer(motion.Options{
		WindowSize:  cfg.MotionWindowSize,
		MinSamples:  cfg.MinMotionSamples,
		StepFreqMin: cfg.StepFreqMin,
		StepFreqMax: cfg.StepFreqMax,
	}, logger)

	// 创建地形分类器
	terrainOpts := terrain.DefaultOptions()
	terrainOpts.ConfidenceFloor = cfg.TerrainConfidenceFloor
	terrainOpts.DetectionTimeout = cfg.DetectionTimeout
	classifier := terrain.NewClassifier(terrainOpts, logger)

	// 创建自适应采样控制器
	sampler := sampling.NewController(sampling.Options{
		StationaryMax:  cfg.StationaryMax,
		WalkingMax:     cfg.WalkingMax,
		JoggingMax:     cfg.JoggingMax,
		SpeedBufferLen: cfg.SpeedBufferLen,
		LongSessionAge: cfg.LongSessionAge,
	}, logger)

	// 创建热量引擎
	calories := calorie.NewEngine(calorie.Options{
		TickInterval:   cfg.CalorieTickInterval,
		ComfortTempMin: cfg.ComfortTempMin,
		ComfortTempMax: cfg.ComfortTempMax,
	}, logger)

	// 创建外部数据源客户端
	geocoder := geocode.NewClient(
		cfg.GeocodeAPIHost,
		time.Duration(cfg.GeocodeMinGapSec)*time.Second,
		cfg.ProviderTimeout,
		logger,
	)
	weatherClient := weather.NewClient(cfg.WeatherAPIHost, cfg.ProviderTimeout, logger)

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	go wsHub.Run()

	// 创建会话服务
	tracker := service.NewTracker(
		cfg,
		logger,
		fusionEngine,
		analyzer,
		classifier,
		sampler,
		calories,
		geocoder,
		weatherClient,
	)

	// 新连接先收到当前快照与地形历史
	wsHub.SetInitDataProvider(func() *ws.InitData {
		return &ws.InitData{
			Snapshot:       tracker.Snapshot(),
			TerrainHistory: classifier.History(),
			Diagnostics:    tracker.Diagnostics(),
		}
	})

	// 订阅快照更新并广播到 WebSocket
	go func() {
		snapCh := tracker.Subscribe()
		for snap := range snapCh {
			wsHub.BroadcastSnapshot(snap)
			if snap.Alert.ShouldAlert {
				wsHub.BroadcastBatteryAlert(snap.Alert)
			}
		}
	}()

	// 地形变化单独推送一条轻量消息
	go func() {
		updates, cancelSub := classifier.Subscribe()
		defer cancelSub()
		for u := range updates {
			wsHub.BroadcastTerrainUpdate(u)
		}
	}()

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(
		logger,
		tracker,
		fusionEngine,
		classifier,
		sampler,
		calories,
		wsHub,
	)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 停止会话服务
	tracker.Stop()

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
