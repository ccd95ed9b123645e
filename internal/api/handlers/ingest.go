package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/rucksense/internal/models"
)

// IngestLocation 注入一个定位点
// POST /api/ingest/location
func (h *Handler) IngestLocation(c *gin.Context) {
	var fix models.LocationFix
	if err := c.ShouldBindJSON(&fix); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid location payload"})
		return
	}
	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now()
	}

	h.tracker.IngestLocation(c.Request.Context(), fix)
	c.JSON(http.StatusOK, gin.H{"data": h.fusion.State()})
}

// IngestAltitude 注入一条海拔观测（气压计 / GPS 任一可缺失）
// POST /api/ingest/altitude
func (h *Handler) IngestAltitude(c *gin.Context) {
	var sample models.AltitudeSample
	if err := c.ShouldBindJSON(&sample); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid altitude payload"})
		return
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	st := h.tracker.IngestAltitude(sample)
	c.JSON(http.StatusOK, gin.H{"data": st})
}

// motionBatch 一批运动样本
type motionBatch struct {
	Samples []models.MotionSample `json:"samples"`
}

// IngestMotion 批量注入运动样本
// POST /api/ingest/motion
func (h *Handler) IngestMotion(c *gin.Context) {
	var batch motionBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid motion payload"})
		return
	}
	if len(batch.Samples) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Empty motion batch"})
		return
	}

	h.tracker.IngestMotion(batch.Samples)
	c.JSON(http.StatusOK, gin.H{
		"message":  "Motion samples accepted",
		"accepted": len(batch.Samples),
	})
}

// IngestBattery 注入电池状态
// POST /api/ingest/battery
func (h *Handler) IngestBattery(c *gin.Context) {
	var status models.BatteryStatus
	if err := c.ShouldBindJSON(&status); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid battery payload"})
		return
	}
	if status.Level < 0 || status.Level > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Battery level must be within [0,1]"})
		return
	}
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	h.tracker.IngestBattery(status)
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"power_state": h.sampler.PowerState(),
		"gps_config":  h.sampler.Recommend(),
	}})
}

// IngestWeather 注入天气数据（外部提供时优先于自动拉取）
// POST /api/ingest/weather
func (h *Handler) IngestWeather(c *gin.Context) {
	var w models.Weather
	if err := c.ShouldBindJSON(&w); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid weather payload"})
		return
	}
	if w.Timestamp.IsZero() {
		w.Timestamp = time.Now()
	}

	h.tracker.IngestWeather(w)
	h.logger.Debug("Weather ingested",
		zap.Float64("temperature_c", w.TemperatureC),
		zap.Float64("wind_mps", w.WindSpeedMps))
	c.JSON(http.StatusOK, gin.H{"message": "Weather accepted"})
}
