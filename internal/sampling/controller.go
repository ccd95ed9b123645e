// Package sampling 根据运动模式与电池状态推荐 GPS 采样配置。
// 基线档位由运动模式决定，电池叠加层只会降档、从不升档；
// 连续会话超过约两小时强制进入超低功耗档。
package sampling

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/rucksense/internal/history"
	"github.com/langchou/rucksense/internal/models"
	"github.com/langchou/rucksense/internal/state"
)

// Options 采样控制参数（运动分类阈值可调）
type Options struct {
	StationaryMax  float64       // m/s
	WalkingMax     float64       // m/s
	JoggingMax     float64       // m/s
	SpeedBufferLen int           // 速度平滑缓冲长度
	LongSessionAge time.Duration // 超过该时长强制超低功耗档
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		StationaryMax:  0.5,
		WalkingMax:     2.0,
		JoggingMax:     3.0,
		SpeedBufferLen: 20,
		LongSessionAge: 2 * time.Hour,
	}
}

// 每档的基线 GPS 配置
var tierConfigs = map[models.AccuracyTier]models.GPSConfiguration{
	models.TierHighPerformance: {Tier: models.TierHighPerformance, DistanceFilter: 5, UpdateInterval: time.Second},
	models.TierBalanced:        {Tier: models.TierBalanced, DistanceFilter: 10, UpdateInterval: 2 * time.Second},
	models.TierBatterySaver:    {Tier: models.TierBatterySaver, DistanceFilter: 25, UpdateInterval: 5 * time.Second},
	models.TierCritical:        {Tier: models.TierCritical, DistanceFilter: 35, UpdateInterval: 8 * time.Second},
	models.TierUltraLow:        {Tier: models.TierUltraLow, DistanceFilter: 50, UpdateInterval: 10 * time.Second},
}

// 每档的耗电估计区间（%/小时）
var tierPower = map[models.AccuracyTier][2]float64{
	models.TierHighPerformance: {15, 18},
	models.TierBalanced:        {8, 12},
	models.TierBatterySaver:    {4, 7},
	models.TierCritical:        {2, 4},
	models.TierUltraLow:        {1, 3},
}

// tierDowngrade 降档表（只降不升）
var tierDowngrade = map[models.AccuracyTier]models.AccuracyTier{
	models.TierHighPerformance: models.TierBalanced,
	models.TierBalanced:        models.TierBatterySaver,
	models.TierBatterySaver:    models.TierCritical,
	models.TierCritical:        models.TierUltraLow,
	models.TierUltraLow:        models.TierUltraLow,
}

// Controller 自适应采样控制器
type Controller struct {
	opts   Options
	logger *zap.Logger

	mu           sync.Mutex
	speeds       *history.Ring[float64]
	machine      *state.Machine
	battery      models.BatteryStatus
	haveBattery  bool
	sessionStart time.Time
}

// NewController 创建控制器；会话计时从创建时刻开始
func NewController(opts Options, logger *zap.Logger) *Controller {
	if opts.SpeedBufferLen <= 0 {
		opts.SpeedBufferLen = 20
	}
	if opts.LongSessionAge <= 0 {
		opts.LongSessionAge = 2 * time.Hour
	}
	c := &Controller{
		opts:         opts,
		logger:       logger,
		speeds:       history.NewRing[float64](opts.SpeedBufferLen),
		sessionStart: time.Now(),
	}
	c.machine = state.NewMachine(func(from, to models.MovementPattern) {
		logger.Info("Movement pattern changed",
			zap.String("from", string(from)),
			zap.String("to", string(to)))
	})
	return c
}

// RecordSpeed 喂入一个速度样本并刷新运动模式。
// 负值/非有限值视为无效读数丢弃。
func (c *Controller) RecordSpeed(speed float64) {
	if speed < 0 || math.IsNaN(speed) || math.IsInf(speed, 0) {
		return
	}

	c.mu.Lock()
	c.speeds.Push(speed)
	pattern := c.classifyLocked()
	c.mu.Unlock()

	if err := c.machine.Apply(pattern); err != nil {
		c.logger.Warn("Failed to apply movement pattern", zap.Error(err))
	}
}

// classifyLocked 平滑速度 → 运动模式
func (c *Controller) classifyLocked() models.MovementPattern {
	speeds := c.speeds.Items()
	if len(speeds) == 0 {
		return models.PatternUnknown
	}
	var sum float64
	for _, v := range speeds {
		sum += v
	}
	avg := sum / float64(len(speeds))

	switch {
	case avg < c.opts.StationaryMax:
		return models.PatternStationary
	case avg <= c.opts.WalkingMax:
		return models.PatternWalking
	case avg <= c.opts.JoggingMax:
		return models.PatternJogging
	default:
		return models.PatternRunning
	}
}

// UpdateBattery 更新电池状态
func (c *Controller) UpdateBattery(b models.BatteryStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.battery = b
	c.haveBattery = true
}

// Pattern 当前运动模式
func (c *Controller) Pattern() models.MovementPattern {
	return c.machine.Current()
}

// PowerState 由电量与系统低电量标志派生的功耗状态
func (c *Controller) PowerState() models.PowerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.powerStateLocked()
}

func (c *Controller) powerStateLocked() models.PowerState {
	if !c.haveBattery {
		return models.PowerNormal
	}
	switch {
	case c.battery.Level < 0.10:
		return models.PowerCritical
	case c.battery.LowPowerMode || c.battery.Level < 0.20:
		return models.PowerLow
	default:
		return models.PowerNormal
	}
}

// Recommend 产生当前的 GPS 采样配置（不可变值对象）
func (c *Controller) Recommend() models.GPSConfiguration {
	tier := c.activeTier()
	return tierConfigs[tier]
}

// activeTier 基线档位 + 电池叠加层（只降不升）
func (c *Controller) activeTier() models.AccuracyTier {
	pattern := c.machine.Current()

	var tier models.AccuracyTier
	switch pattern {
	case models.PatternJogging, models.PatternRunning:
		tier = models.TierHighPerformance
	case models.PatternWalking:
		tier = models.TierBalanced
	default:
		// stationary / unknown
		tier = models.TierBatterySaver
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.powerStateLocked() {
	case models.PowerLow:
		tier = tierDowngrade[tier]
	case models.PowerCritical:
		// 电量 <10% 无条件进入 critical 档
		tier = models.TierCritical
	}

	// 长会话强制超低功耗，优先级最高
	if time.Since(c.sessionStart) > c.opts.LongSessionAge {
		tier = models.TierUltraLow
	}
	return tier
}

// PowerEstimate 当前档位的耗电估计
func (c *Controller) PowerEstimate() models.PowerEstimate {
	tier := c.activeTier()
	band := tierPower[tier]
	return models.PowerEstimate{Tier: tier, MinPerHour: band[0], MaxPerHour: band[1]}
}

// Alert 低电量提醒建议
func (c *Controller) Alert() models.BatteryAlert {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.haveBattery || c.battery.Charging {
		return models.BatteryAlert{}
	}
	level := c.battery.Level * 100
	switch c.powerStateLocked() {
	case models.PowerCritical:
		return models.BatteryAlert{
			ShouldAlert: true,
			Message:     fmt.Sprintf("Battery critical (%.0f%%): GPS sampling reduced to minimum", level),
		}
	case models.PowerLow:
		return models.BatteryAlert{
			ShouldAlert: true,
			Message:     fmt.Sprintf("Battery low (%.0f%%): consider enabling power saving", level),
		}
	}
	return models.BatteryAlert{}
}

// ResetSession 重置会话计时与速度缓冲
func (c *Controller) ResetSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionStart = time.Now()
	c.speeds.Clear()
}

// SessionDuration 当前会话时长
func (c *Controller) SessionDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.sessionStart)
}

// setSessionStart 测试辅助：回拨会话起点
func (c *Controller) setSessionStart(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionStart = t
}
