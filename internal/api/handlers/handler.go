package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/rucksense/internal/calorie"
	"github.com/langchou/rucksense/internal/fusion"
	"github.com/langchou/rucksense/internal/sampling"
	"github.com/langchou/rucksense/internal/service"
	"github.com/langchou/rucksense/internal/terrain"
	"github.com/langchou/rucksense/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger     *zap.Logger
	tracker    *service.Tracker
	fusion     *fusion.Engine
	classifier *terrain.Classifier
	sampler    *sampling.Controller
	calories   *calorie.Engine
	wsHub      *ws.Hub
	upgrader   websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	tracker *service.Tracker,
	fusionEngine *fusion.Engine,
	classifier *terrain.Classifier,
	sampler *sampling.Controller,
	calories *calorie.Engine,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:     logger,
		tracker:    tracker,
		fusion:     fusionEngine,
		classifier: classifier,
		sampler:    sampler,
		calories:   calories,
		wsHub:      wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 传感器注入
		api.POST("/ingest/location", h.IngestLocation)
		api.POST("/ingest/altitude", h.IngestAltitude)
		api.POST("/ingest/motion", h.IngestMotion)
		api.POST("/ingest/battery", h.IngestBattery)
		api.POST("/ingest/weather", h.IngestWeather)

		// 会话
		api.POST("/session/start", h.StartSession)
		api.POST("/session/stop", h.StopSession)
		api.POST("/session/reset", h.ResetSession)
		api.GET("/session", h.GetSession)

		// 海拔
		api.GET("/elevation", h.GetElevation)

		// 地形
		api.GET("/terrain", h.GetTerrain)
		api.GET("/terrain/history", h.GetTerrainHistory)
		api.POST("/terrain/detect", h.DetectTerrain)
		api.POST("/terrain/override", h.SetTerrainOverride)
		api.DELETE("/terrain/override", h.ClearTerrainOverride)

		// 热量
		api.GET("/calories", h.GetCalories)
		api.GET("/calories/history", h.GetCalorieHistory)
		api.POST("/calories/calculate", h.CalculateCalories)
		api.POST("/calories/reset", h.ResetCalories)

		// 采样与功耗
		api.GET("/gps-config", h.GetGPSConfig)
		api.GET("/power", h.GetPower)

		// 诊断
		api.GET("/diagnostics", h.GetDiagnostics)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"session":    h.tracker.Running(),
		"ws_clients": h.wsHub.ClientCount(),
	})
}
