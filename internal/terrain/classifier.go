// Package terrain 将运动特征、逆地理编码提示与手动覆盖融合为
// 地形类型 + 置信度 + 难度系数。融合优先级：
// 手动覆盖 > 运动+位置组合（置信度高者胜，平手取运动）> 仅运动 >
// 仅位置 > 默认 (trail, 置信度 0)。
// 难度系数表是权威常量；运动签名阈值是可调配置。
package terrain

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langchou/rucksense/internal/history"
	"github.com/langchou/rucksense/internal/models"
)

const (
	historySize   = 100
	subscriberBuf = 16
)

// SignatureBands 运动签名阈值（可调；精确分界无法由观测行为唯一确定）
type SignatureBands struct {
	StairsFreqMax     float64 // 楼梯：步频上限
	StairsVarianceMin float64 // 楼梯：垂直方差下限
	SnowVarianceMin   float64 // 雪地：方差下限
	SandVarianceMin   float64 // 沙地：方差下限
	MudVarianceMin    float64 // 泥地：方差下限
	MudFreqMax        float64 // 泥地：步频上限（深陷拖步）
	GravelVarianceMin float64 // 碎石：方差下限
	TrailVarianceMin  float64 // 土径：方差下限（低于此视为铺装路面）
	GrassFreqMax      float64 // 草地：步频上限（软地面步频偏低）
}

// DefaultBands 默认签名阈值
func DefaultBands() SignatureBands {
	return SignatureBands{
		StairsFreqMax:     1.3,
		StairsVarianceMin: 0.5,
		SnowVarianceMin:   1.5,
		SandVarianceMin:   1.0,
		MudVarianceMin:    0.6,
		MudFreqMax:        1.4,
		GravelVarianceMin: 0.35,
		TrailVarianceMin:  0.12,
		GrassFreqMax:      1.6,
	}
}

// Options 分类器参数
type Options struct {
	Bands            SignatureBands
	ConfidenceFloor  float64       // 低于该置信度按失败处理，回退安全默认
	FreshWindow      time.Duration // 观测参与融合的时效窗口
	DetectionTimeout time.Duration // DetectTerrain 的有界超时
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		Bands:            DefaultBands(),
		ConfidenceFloor:  0.6,
		FreshWindow:      30 * time.Second,
		DetectionTimeout: 5 * time.Second,
	}
}

// Classifier 地形分类器；可变状态由内部互斥锁串行化
type Classifier struct {
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	motion   *models.TerrainObservation
	location *models.TerrainObservation
	manual   *models.TerrainObservation
	lastErr  error

	hist        *history.Ring[models.TerrainObservation]
	subscribers map[string]chan models.TerrainUpdate
}

// NewClassifier 创建分类器
func NewClassifier(opts Options, logger *zap.Logger) *Classifier {
	if opts.ConfidenceFloor <= 0 {
		opts.ConfidenceFloor = 0.6
	}
	if opts.FreshWindow <= 0 {
		opts.FreshWindow = 30 * time.Second
	}
	if opts.DetectionTimeout <= 0 {
		opts.DetectionTimeout = 5 * time.Second
	}
	return &Classifier{
		opts:        opts,
		logger:      logger,
		hist:        history.NewRing[models.TerrainObservation](historySize),
		subscribers: make(map[string]chan models.TerrainUpdate),
	}
}

// ObserveMotion 基于运动特征产生一次地形观测
func (c *Classifier) ObserveMotion(f models.MotionFeatures) models.TerrainObservation {
	terrain, conf := c.classifyMotion(f)
	obs := models.TerrainObservation{
		Terrain:    terrain,
		Confidence: clamp01(conf),
		Method:     models.MethodMotion,
		Timestamp:  f.WindowEnd,
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now()
	}

	c.mu.Lock()
	c.motion = &obs
	c.hist.Push(obs)
	c.mu.Unlock()

	c.notify()
	return obs
}

// ObserveLocation 基于逆地理编码文本提示产生一次地形观测。
// GPS 水平精度劣于 100 米时，位置来源的置信度封顶 0.3。
func (c *Classifier) ObserveLocation(hint models.SurfaceHint, horizontalAccuracy float64) models.TerrainObservation {
	terrain, conf := classifyHint(hint)
	if horizontalAccuracy > 100 && conf > 0.3 {
		conf = 0.3
	}
	obs := models.TerrainObservation{
		Terrain:    terrain,
		Confidence: clamp01(conf),
		Method:     models.MethodLocation,
		Timestamp:  hint.Timestamp,
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now()
	}

	c.mu.Lock()
	c.location = &obs
	c.hist.Push(obs)
	c.mu.Unlock()

	c.notify()
	return obs
}

// RecordFailure 记录一次传感器/识别失败（仅诊断，分类照常走回退）
func (c *Classifier) RecordFailure(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.logger.Debug("Terrain detection failure recorded", zap.Error(err))
}

// SetManual 手动指定地形：置信度 1.0，立即生效
func (c *Classifier) SetManual(t models.TerrainType) (models.TerrainObservation, error) {
	if !t.Valid() {
		return models.TerrainObservation{}, &models.SensorFailureError{Sensor: "manual:" + string(t)}
	}
	obs := models.TerrainObservation{
		Terrain:    t,
		Confidence: 1.0,
		Method:     models.MethodManual,
		Timestamp:  time.Now(),
	}

	c.mu.Lock()
	c.manual = &obs
	c.hist.Push(obs)
	c.mu.Unlock()

	c.logger.Info("Manual terrain override set", zap.String("terrain", string(t)))
	c.notify()
	return obs, nil
}

// ClearManual 撤销手动覆盖
func (c *Classifier) ClearManual() {
	c.mu.Lock()
	c.manual = nil
	c.mu.Unlock()
	c.notify()
}

// Current 当前融合结果（不可变快照）
func (c *Classifier) Current() models.TerrainUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked(time.Now())
}

func (c *Classifier) currentLocked(now time.Time) models.TerrainUpdate {
	obs := c.fuseLocked(now)
	return models.TerrainUpdate{
		Terrain:    obs.Terrain,
		Factor:     obs.Factor(),
		Confidence: obs.Confidence,
		Timestamp:  obs.Timestamp,
	}
}

// fuseLocked 按优先级融合当前观测
func (c *Classifier) fuseLocked(now time.Time) models.TerrainObservation {
	if c.manual != nil {
		return *c.manual
	}

	motion := freshObs(c.motion, now, c.opts.FreshWindow)
	location := freshObs(c.location, now, c.opts.FreshWindow)

	switch {
	case motion != nil && location != nil:
		// 组合估计：置信度高者胜，平手取运动
		chosen := *motion
		if location.Confidence > motion.Confidence {
			chosen = *location
		}
		chosen.Method = models.MethodFusion
		return chosen
	case motion != nil:
		return *motion
	case location != nil:
		return *location
	}

	// 回退默认：trail，置信度 0
	return models.TerrainObservation{
		Terrain:    models.TerrainTrail,
		Confidence: 0,
		Method:     models.MethodFusion,
		Timestamp:  now,
	}
}

// EnhancedFactor 基础系数叠加坡度补偿：仅上坡补偿，增幅 ≤2%；
// 下坡不会把系数降到基础值以下。
func (c *Classifier) EnhancedFactor(gradePercent float64) float64 {
	base := c.Current().Factor
	if gradePercent <= 0 {
		return base
	}
	comp := gradePercent * 0.001
	if comp > 0.02 {
		comp = 0.02
	}
	return base * (1 + comp)
}

// DetectTerrain 有界超时的识别尝试：等待一次置信度达标的状态变化；
// 超时则记录 ErrAnalysisTimeout 并返回安全默认，而不是挂起或报错。
func (c *Classifier) DetectTerrain(ctx context.Context) models.TerrainObservation {
	c.mu.Lock()
	cur := c.fuseLocked(time.Now())
	c.mu.Unlock()
	if cur.Confidence >= c.opts.ConfidenceFloor {
		return cur
	}

	updates, cancel := c.Subscribe()
	defer cancel()

	timer := time.NewTimer(c.opts.DetectionTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.RecordFailure(models.ErrAnalysisTimeout)
			return c.safeDefault()
		case <-timer.C:
			c.mu.Lock()
			cur = c.fuseLocked(time.Now())
			c.mu.Unlock()
			if cur.Confidence >= c.opts.ConfidenceFloor {
				return cur
			}
			c.RecordFailure(&models.LowConfidenceError{Score: cur.Confidence})
			return c.safeDefault()
		case <-updates:
			c.mu.Lock()
			cur = c.fuseLocked(time.Now())
			c.mu.Unlock()
			if cur.Confidence >= c.opts.ConfidenceFloor {
				return cur
			}
		}
	}
}

func (c *Classifier) safeDefault() models.TerrainObservation {
	return models.TerrainObservation{
		Terrain:    models.TerrainTrail,
		Confidence: 0,
		Method:     models.MethodFusion,
		Timestamp:  time.Now(),
	}
}

// History 返回观测历史（旧→新，上限 100 条）
func (c *Classifier) History() []models.TerrainObservation {
	return c.hist.Items()
}

// LastError 最近一次识别失败（诊断用）
func (c *Classifier) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Subscribe 订阅地形状态变化，返回只读通道与取消函数。
// 慢消费者的更新会被丢弃而不是阻塞分类器。
func (c *Classifier) Subscribe() (<-chan models.TerrainUpdate, func()) {
	id := uuid.NewString()
	ch := make(chan models.TerrainUpdate, subscriberBuf)

	c.mu.Lock()
	c.subscribers[id] = ch
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if sub, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(sub)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

// notify 向所有订阅者推送当前融合结果
func (c *Classifier) notify() {
	c.mu.Lock()
	update := c.currentLocked(time.Now())
	for _, ch := range c.subscribers {
		select {
		case ch <- update:
		default:
		}
	}
	c.mu.Unlock()
}

// classifyMotion 运动签名 → 地形类型。阈值见 SignatureBands。
func (c *Classifier) classifyMotion(f models.MotionFeatures) (models.TerrainType, float64) {
	b := c.opts.Bands
	v := f.AccelVariance
	freq := f.StepFrequency

	// 无步态信号：给不出有意义的分类
	if freq == 0 && v < 0.01 {
		return models.TerrainTrail, 0.2
	}

	switch {
	case freq > 0 && freq <= b.StairsFreqMax && v >= b.StairsVarianceMin && f.DominantAxis == models.AxisZ:
		return models.TerrainStairs, 0.7
	case v >= b.SnowVarianceMin:
		return models.TerrainSnow, 0.65
	case v >= b.SandVarianceMin:
		return models.TerrainSand, 0.65
	case v >= b.MudVarianceMin && freq > 0 && freq <= b.MudFreqMax:
		return models.TerrainMud, 0.65
	case v >= b.GravelVarianceMin:
		return models.TerrainGravel, 0.65
	case v >= b.TrailVarianceMin:
		if freq > 0 && freq <= b.GrassFreqMax {
			return models.TerrainGrass, 0.6
		}
		return models.TerrainTrail, 0.65
	default:
		// 平稳低方差步态：铺装路面
		return models.TerrainPavedRoad, 0.75
	}
}

// hintKeywords 位置文本关键词 → 地形类型（按特异性排序）
var hintKeywords = []struct {
	word    string
	terrain models.TerrainType
}{
	{"stairs", models.TerrainStairs},
	{"steps", models.TerrainStairs},
	{"sand", models.TerrainSand},
	{"beach", models.TerrainSand},
	{"dune", models.TerrainSand},
	{"snow", models.TerrainSnow},
	{"glacier", models.TerrainSnow},
	{"mud", models.TerrainMud},
	{"marsh", models.TerrainMud},
	{"bog", models.TerrainMud},
	{"gravel", models.TerrainGravel},
	{"unpaved", models.TerrainGravel},
	{"dirt", models.TerrainGravel},
	{"grass", models.TerrainGrass},
	{"meadow", models.TerrainGrass},
	{"lawn", models.TerrainGrass},
	{"park", models.TerrainGrass},
	{"trail", models.TerrainTrail},
	{"path", models.TerrainTrail},
	{"track", models.TerrainTrail},
	{"footway", models.TerrainTrail},
	{"asphalt", models.TerrainPavedRoad},
	{"paved", models.TerrainPavedRoad},
	{"concrete", models.TerrainPavedRoad},
	{"sidewalk", models.TerrainPavedRoad},
	{"street", models.TerrainPavedRoad},
	{"road", models.TerrainPavedRoad},
	{"avenue", models.TerrainPavedRoad},
	{"highway", models.TerrainPavedRoad},
}

// classifyHint 路面文本 → 地形类型。surface 标签比道路名可信。
func classifyHint(hint models.SurfaceHint) (models.TerrainType, float64) {
	surface := strings.ToLower(hint.Surface)
	if surface != "" {
		for _, kw := range hintKeywords {
			if strings.Contains(surface, kw.word) {
				return kw.terrain, 0.7
			}
		}
	}

	text := strings.ToLower(hint.Road + " " + hint.DisplayName)
	for _, kw := range hintKeywords {
		if strings.Contains(text, kw.word) {
			return kw.terrain, 0.5
		}
	}

	// 无匹配：默认 trail
	return models.TerrainTrail, 0.3
}

func freshObs(obs *models.TerrainObservation, now time.Time, window time.Duration) *models.TerrainObservation {
	if obs == nil || now.Sub(obs.Timestamp) > window {
		return nil
	}
	return obs
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
