package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/rucksense/internal/models"
)

// sessionRequest 会话启动参数
type sessionRequest struct {
	BodyWeightKg float64 `json:"body_weight_kg"`
	LoadWeightKg float64 `json:"load_weight_kg"`
}

// StartSession 启动行军会话
// POST /api/session/start
func (h *Handler) StartSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session payload"})
		return
	}
	if req.BodyWeightKg <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body_weight_kg is required"})
		return
	}

	if err := h.tracker.Start(c.Request.Context(), req.BodyWeightKg, req.LoadWeightKg); err != nil {
		h.logger.Error("Failed to start session", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap := h.tracker.Snapshot()
	h.logger.Info("Session started via API", zap.String("session_id", snap.SessionID))
	c.JSON(http.StatusOK, gin.H{"data": snap})
}

// StopSession 停止行军会话
// POST /api/session/stop
func (h *Handler) StopSession(c *gin.Context) {
	h.tracker.Stop()
	h.logger.Info("Session stopped via API")
	c.JSON(http.StatusOK, gin.H{
		"message": "Session stopped",
		"data":    h.tracker.Snapshot(),
	})
}

// ResetSession 重置全部引擎状态（需先停止会话）
// POST /api/session/reset
func (h *Handler) ResetSession(c *gin.Context) {
	if err := h.tracker.Reset(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session reset"})
}

// GetSession 获取会话状态快照
// GET /api/session
func (h *Handler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.tracker.Snapshot()})
}

// GetElevation 获取融合海拔状态
// GET /api/elevation
func (h *Handler) GetElevation(c *gin.Context) {
	st := h.fusion.State()
	resp := gin.H{
		"state":                 st,
		"accuracy":              h.fusion.Accuracy(),
		"meets_accuracy_target": h.fusion.MeetsAccuracyTarget(),
		"grade_percent":         h.tracker.Grade(),
	}
	if err := h.fusion.CapabilityError(); err != nil {
		resp["degraded"] = err.Error()
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// GetTerrain 获取当前地形融合结果
// GET /api/terrain
func (h *Handler) GetTerrain(c *gin.Context) {
	cur := h.classifier.Current()
	resp := gin.H{
		"terrain":         cur,
		"enhanced_factor": h.classifier.EnhancedFactor(h.tracker.Grade()),
	}
	if err := h.classifier.LastError(); err != nil {
		resp["last_failure"] = err.Error()
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// GetTerrainHistory 获取地形观测历史
// GET /api/terrain/history
func (h *Handler) GetTerrainHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.classifier.History()})
}

// DetectTerrain 触发一次有界超时的地形识别
// POST /api/terrain/detect
func (h *Handler) DetectTerrain(c *gin.Context) {
	obs := h.classifier.DetectTerrain(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"data": obs})
}

// overrideRequest 手动地形覆盖参数
type overrideRequest struct {
	Terrain models.TerrainType `json:"terrain"`
}

// SetTerrainOverride 手动指定地形（优先级最高）
// POST /api/terrain/override
func (h *Handler) SetTerrainOverride(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid override payload"})
		return
	}

	obs, err := h.classifier.SetManual(req.Terrain)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.logger.Info("Terrain override set via API", zap.String("terrain", string(req.Terrain)))
	c.JSON(http.StatusOK, gin.H{"data": obs})
}

// ClearTerrainOverride 清除手动地形覆盖
// DELETE /api/terrain/override
func (h *Handler) ClearTerrainOverride(c *gin.Context) {
	h.classifier.ClearManual()
	c.JSON(http.StatusOK, gin.H{
		"message": "Terrain override cleared",
		"data":    h.classifier.Current(),
	})
}

// GetCalories 获取热量累计与当前地形系数
// GET /api/calories
func (h *Handler) GetCalories(c *gin.Context) {
	resp := gin.H{
		"total_kcal":     h.calories.Total(),
		"terrain_factor": h.calories.TerrainFactor(),
		"running":        h.calories.Running(),
	}
	if hist := h.calories.History(); len(hist) > 0 {
		resp["last"] = hist[len(hist)-1]
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// GetCalorieHistory 获取热量计算历史
// GET /api/calories/history
func (h *Handler) GetCalorieHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.calories.History()})
}

// CalculateCalories 单次热量计算
// POST /api/calories/calculate
// 输入越界返回类型化校验错误，不做静默截断
func (h *Handler) CalculateCalories(c *gin.Context) {
	var params models.CalorieParameters
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid calorie payload"})
		return
	}
	if params.Timestamp.IsZero() {
		params.Timestamp = time.Now()
	}

	result, err := h.calories.Calculate(params)
	if err != nil {
		if errors.Is(err, models.ErrInvalidBodyWeight) ||
			errors.Is(err, models.ErrInvalidLoadWeight) ||
			errors.Is(err, models.ErrInvalidSpeed) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Calorie calculation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Calculation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// ResetCalories 清零热量累计
// POST /api/calories/reset
func (h *Handler) ResetCalories(c *gin.Context) {
	h.calories.Reset()
	c.JSON(http.StatusOK, gin.H{"message": "Calorie totals reset"})
}

// GetGPSConfig 获取当前推荐的 GPS 采样配置
// GET /api/gps-config
func (h *Handler) GetGPSConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"config":  h.sampler.Recommend(),
		"pattern": h.sampler.Pattern(),
	}})
}

// GetPower 获取功耗状态、耗电估计与低电量提醒
// GET /api/power
func (h *Handler) GetPower(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"state":    h.sampler.PowerState(),
		"estimate": h.sampler.PowerEstimate(),
		"alert":    h.sampler.Alert(),
		"session":  h.sampler.SessionDuration().String(),
	}})
}

// GetDiagnostics 获取人类可读的诊断信息
// GET /api/diagnostics
func (h *Handler) GetDiagnostics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.tracker.Diagnostics()})
}
