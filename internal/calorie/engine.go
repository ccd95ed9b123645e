// Package calorie 实现负重行军的代谢率与累计热量估计。
// 基础代谢率采用 LCDA/Pandolf 风格的负重模型（体重、负重、速度），
// 坡度按经验曲线调整（+10% 坡度 ≈ +45% 代谢率），环境乘子叠加
// 温度、风阻与海拔，地形系数直接相乘。输入校验失败返回类型化错误，
// 绝不静默截断；校验失败只影响该次调用，累计值不受影响。
package calorie

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/rucksense/internal/history"
	"github.com/langchou/rucksense/internal/models"
)

const (
	historySize = 1000

	// 瓦特 → kcal/min
	wattsToKcalPerMin = 60.0 / 4184.0

	// 输入校验边界
	bodyWeightMin = 30.0
	bodyWeightMax = 200.0
	loadWeightMin = 0.0
	loadWeightMax = 100.0
	speedMin      = 0.0
	speedMax      = 3.0
)

// Options 模型参数
type Options struct {
	TickInterval   time.Duration // 连续计算周期
	ComfortTempMin float64       // 舒适温度带下限（℃）
	ComfortTempMax float64       // 舒适温度带上限（℃）
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		TickInterval:   10 * time.Second,
		ComfortTempMin: 15.0,
		ComfortTempMax: 25.0,
	}
}

// Provider 连续计算的数据源（由外部注入，便于单测）
type Provider interface {
	CurrentSpeed() float64          // m/s
	CurrentGrade() float64          // 百分比
	CurrentAltitude() float64       // 米
	CurrentWeather() (models.Weather, bool)
}

// Engine 热量引擎；累计值与历史由内部互斥锁独占
type Engine struct {
	opts   Options
	logger *zap.Logger

	mu            sync.Mutex
	totalKcal     float64
	lastCalc      time.Time
	terrainFactor float64
	hist          *history.Ring[models.CalorieResult]

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewEngine 创建引擎
func NewEngine(opts Options, logger *zap.Logger) *Engine {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 10 * time.Second
	}
	if opts.ComfortTempMax <= opts.ComfortTempMin {
		opts.ComfortTempMin, opts.ComfortTempMax = 15.0, 25.0
	}
	return &Engine{
		opts:          opts,
		logger:        logger,
		terrainFactor: 1.0,
		hist:          history.NewRing[models.CalorieResult](historySize),
	}
}

// Calculate 单次热量计算。校验失败返回类型化错误且不触碰累计状态；
// 时间戳相对上次推进时按 rate×Δt 单调累计。
func (e *Engine) Calculate(p models.CalorieParameters) (models.CalorieResult, error) {
	if err := validate(p); err != nil {
		return models.CalorieResult{}, err
	}

	rate, envFactor, gradeFactor, terrain := e.rate(p)

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.lastCalc.IsZero() && p.Timestamp.After(e.lastCalc) {
		minutes := p.Timestamp.Sub(e.lastCalc).Minutes()
		e.totalKcal += rate * minutes
	}
	if p.Timestamp.After(e.lastCalc) {
		e.lastCalc = p.Timestamp
	}

	result := models.CalorieResult{
		MetabolicRateKcalPerMin: rate,
		ConfidenceInterval:      [2]float64{rate * 0.9, rate * 1.1},
		CumulativeTotalKcal:     e.totalKcal,
		EnvironmentalFactor:     envFactor,
		TerrainFactor:           terrain,
		GradeFactor:             gradeFactor,
		Timestamp:               p.Timestamp,
	}
	e.hist.Push(result)
	return result, nil
}

// rate 代谢率 (kcal/min) 及各分解因子
func (e *Engine) rate(p models.CalorieParameters) (rate, envFactor, gradeFactor, terrain float64) {
	base := baseWatts(p.BodyWeightKg, p.LoadWeightKg, p.SpeedMps) * wattsToKcalPerMin

	gradeFactor = gradeAdjustment(clampGrade(p.GradePercent))
	envFactor = e.environmentFactor(p)
	terrain = sanitizeTerrain(p.TerrainMultiplier)

	// 坡度、环境与地形乘性组合
	rate = base * gradeFactor * envFactor * terrain
	if !isFinite(rate) || rate <= 0 {
		// 任何数值异常都不允许流出：回退到基础代谢率
		rate = math.Max(base, 0.1)
	}
	return rate, envFactor, gradeFactor, terrain
}

// baseWatts LCDA/Pandolf 基础项：站立代谢 + 负重项 + 速度项
func baseWatts(bodyKg, loadKg, speed float64) float64 {
	total := bodyKg + loadKg
	standing := 1.5 * bodyKg
	loadTerm := 2.0 * total * math.Pow(loadKg/bodyKg, 2)
	speedTerm := total * 1.5 * speed * speed
	return standing + loadTerm + speedTerm
}

// gradeAdjustment 坡度调整曲线：+10% 坡度 ≈ ×1.45；
// 下坡降低消耗但绝不把代谢率压到非正。
func gradeAdjustment(grade float64) float64 {
	if grade >= 0 {
		return 1 + 0.045*grade
	}
	f := 1 + 0.025*grade
	if f < 0.3 {
		f = 0.3
	}
	return f
}

// environmentFactor 环境乘子：温度偏离舒适带、风阻、海拔
func (e *Engine) environmentFactor(p models.CalorieParameters) float64 {
	temp := 1.0
	switch {
	case p.TemperatureC < e.opts.ComfortTempMin:
		temp = 1 + 0.01*(e.opts.ComfortTempMin-p.TemperatureC)
	case p.TemperatureC > e.opts.ComfortTempMax:
		temp = 1 + 0.015*(p.TemperatureC-e.opts.ComfortTempMax)
	}
	temp = capFactor(temp, 2.0)

	wind := 1.0
	if p.WindSpeedMps > 0 {
		// 风阻随行进速度放大
		wind = 1 + 0.01*p.WindSpeedMps*(1+p.SpeedMps/2)
	}
	wind = capFactor(wind, 2.0)

	alt := 1.0
	if p.AltitudeM > 0 {
		alt = 1 + 0.10*p.AltitudeM/1000.0
	}
	alt = capFactor(alt, 3.0)

	return capFactor(temp*wind*alt, 6.0)
}

// Total 当前累计热量 (kcal)
func (e *Engine) Total() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalKcal
}

// History 计算历史（旧→新，上限 1000 条）
func (e *Engine) History() []models.CalorieResult {
	return e.hist.Items()
}

// SetTerrainFactor 热更新地形系数（不重置累计值）
func (e *Engine) SetTerrainFactor(f float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.terrainFactor = sanitizeTerrain(f)
}

// TerrainFactor 当前地形系数
func (e *Engine) TerrainFactor() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terrainFactor
}

// Reset 清零累计值与历史
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalKcal = 0
	e.lastCalc = time.Time{}
	e.hist.Clear()
}

// StartContinuous 启动连续计算：按周期从 Provider 拉取速度/坡度/海拔/
// 气象，结合热更新的地形系数持续累计。重复启动为空操作。
func (e *Engine) StartContinuous(ctx context.Context, provider Provider, bodyKg, loadKg float64) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	stopCh := e.stopCh
	e.mu.Unlock()

	e.wg.Add(1)
	go e.continuousLoop(ctx, stopCh, provider, bodyKg, loadKg)
	e.logger.Info("Continuous calorie tracking started",
		zap.Float64("body_kg", bodyKg),
		zap.Float64("load_kg", loadKg))
}

// StopContinuous 停止连续计算；可重复调用
func (e *Engine) StopContinuous() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("Continuous calorie tracking stopped")
}

// Running 连续计算是否在运行
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) continuousLoop(ctx context.Context, stopCh <-chan struct{}, provider Provider, bodyKg, loadKg float64) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(provider, bodyKg, loadKg)
		}
	}
}

// tick 构造一次参数快照并计算；单次输入异常只跳过该 tick
func (e *Engine) tick(provider Provider, bodyKg, loadKg float64) {
	params := models.CalorieParameters{
		BodyWeightKg:      bodyKg,
		LoadWeightKg:      loadKg,
		SpeedMps:          provider.CurrentSpeed(),
		GradePercent:      provider.CurrentGrade(),
		AltitudeM:         provider.CurrentAltitude(),
		TerrainMultiplier: e.TerrainFactor(),
		TemperatureC:      20.0,
		Timestamp:         time.Now(),
	}
	if w, ok := provider.CurrentWeather(); ok {
		params.TemperatureC = w.TemperatureC
		params.WindSpeedMps = w.WindSpeedMps
	}

	if _, err := e.Calculate(params); err != nil {
		e.logger.Debug("Skipping calorie tick", zap.Error(err))
	}
}

func validate(p models.CalorieParameters) error {
	switch {
	case !isFinite(p.BodyWeightKg) || p.BodyWeightKg < bodyWeightMin || p.BodyWeightKg > bodyWeightMax:
		return models.ErrInvalidBodyWeight
	case !isFinite(p.LoadWeightKg) || p.LoadWeightKg < loadWeightMin || p.LoadWeightKg > loadWeightMax:
		return models.ErrInvalidLoadWeight
	case !isFinite(p.SpeedMps) || p.SpeedMps < speedMin || p.SpeedMps > speedMax:
		return models.ErrInvalidSpeed
	}
	return nil
}

func clampGrade(g float64) float64 {
	if !isFinite(g) {
		return 0
	}
	if g > 20 {
		return 20
	}
	if g < -20 {
		return -20
	}
	return g
}

func sanitizeTerrain(f float64) float64 {
	if !isFinite(f) || f <= 0 {
		return 1.0
	}
	return f
}

func capFactor(v, max float64) float64 {
	if !isFinite(v) || v < 0.1 {
		return 1.0
	}
	if v > max {
		return max
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
