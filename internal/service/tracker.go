// Package service 将各估计引擎编排为一次行军会话：
// 原始定位/运动/电池样本从这里分发给海拔融合、运动分析与地形分类，
// 连续热量计算与地形系数直播作为独立的可取消后台任务运行。
package service

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langchou/rucksense/internal/calorie"
	"github.com/langchou/rucksense/internal/config"
	"github.com/langchou/rucksense/internal/fusion"
	"github.com/langchou/rucksense/internal/models"
	"github.com/langchou/rucksense/internal/motion"
	"github.com/langchou/rucksense/internal/sampling"
	"github.com/langchou/rucksense/internal/terrain"
)

// Geocoder 逆地理编码数据源
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (models.SurfaceHint, error)
}

// WeatherSource 天气数据源
type WeatherSource interface {
	Current(ctx context.Context, lat, lng float64) (models.Weather, error)
}

// Snapshot 对外暴露的会话状态快照（不可变）
type Snapshot struct {
	SessionID    string                  `json:"session_id"`
	Running      bool                    `json:"running"`
	Elevation    models.ElevationState   `json:"elevation"`
	GradePercent float64                 `json:"grade_percent"`
	Terrain      models.TerrainUpdate    `json:"terrain"`
	Movement     models.MovementPattern  `json:"movement"`
	GPSConfig    models.GPSConfiguration `json:"gps_config"`
	Power        models.PowerEstimate    `json:"power"`
	Alert        models.BatteryAlert     `json:"alert"`
	TotalKcal    float64                 `json:"total_kcal"`
	LastCalorie  *models.CalorieResult   `json:"last_calorie,omitempty"`
	Timestamp    time.Time               `json:"timestamp"`
}

// Tracker 行军会话服务
type Tracker struct {
	cfg        *config.Config
	logger     *zap.Logger
	fusion     *fusion.Engine
	analyzer   *motion.Analyzer
	classifier *terrain.Classifier
	sampler    *sampling.Controller
	calories   *calorie.Engine
	geocoder   Geocoder
	weatherSrc WeatherSource

	mu          sync.Mutex
	running     bool
	sessionID   string
	stopCh      chan struct{}
	wg          sync.WaitGroup
	subscribers []chan Snapshot

	lastFix       *models.LocationFix
	latestWeather *models.Weather
	grade         float64

	prevAlt     float64
	prevLat     float64
	prevLng     float64
	havePrev    bool
	geoBusy     bool
	weatherBusy bool
	lastGeo     time.Time
}

// NewTracker 创建会话服务。geocoder / weatherSrc 可为 nil（离线模式）。
func NewTracker(
	cfg *config.Config,
	logger *zap.Logger,
	fusionEngine *fusion.Engine,
	analyzer *motion.Analyzer,
	classifier *terrain.Classifier,
	sampler *sampling.Controller,
	calories *calorie.Engine,
	geocoder Geocoder,
	weatherSrc WeatherSource,
) *Tracker {
	return &Tracker{
		cfg:        cfg,
		logger:     logger,
		fusion:     fusionEngine,
		analyzer:   analyzer,
		classifier: classifier,
		sampler:    sampler,
		calories:   calories,
		geocoder:   geocoder,
		weatherSrc: weatherSrc,
	}
}

// Start 启动一次行军会话：开启连续热量计算与地形直播两个后台任务。
// 已在运行时为空操作。
func (t *Tracker) Start(ctx context.Context, bodyKg, loadKg float64) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		t.logger.Info("Tracker already running, skipping start")
		return nil
	}
	t.running = true
	t.sessionID = uuid.NewString()
	t.stopCh = make(chan struct{})
	stopCh := t.stopCh
	t.mu.Unlock()

	// 后台任务的生命周期由 Stop 控制，不随请求 context 取消
	runCtx := context.WithoutCancel(ctx)

	t.sampler.ResetSession()
	t.calories.StartContinuous(runCtx, t, bodyKg, loadKg)

	// 地形直播：每次状态变化刷新热量引擎的地形系数并广播快照
	updates, cancel := t.classifier.Subscribe()
	t.wg.Add(1)
	go t.terrainLoop(runCtx, stopCh, updates, cancel)

	t.logger.Info("Tracking session started",
		zap.String("session_id", t.sessionID),
		zap.Float64("body_kg", bodyKg),
		zap.Float64("load_kg", loadKg))
	return nil
}

// Stop 停止会话；可重复调用
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stopCh)
	t.mu.Unlock()

	t.calories.StopContinuous()
	t.wg.Wait()
	t.logger.Info("Tracking session stopped")
}

// Running 会话是否在运行
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Reset 重置全部引擎状态（会话必须已停止）
func (t *Tracker) Reset() error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("cannot reset while session is running")
	}
	t.havePrev = false
	t.grade = 0
	t.lastFix = nil
	t.mu.Unlock()

	t.fusion.Reset()
	t.analyzer.Reset()
	t.calories.Reset()
	t.sampler.ResetSession()
	return nil
}

func (t *Tracker) terrainLoop(ctx context.Context, stopCh <-chan struct{}, updates <-chan models.TerrainUpdate, cancel func()) {
	defer t.wg.Done()
	defer cancel()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			// 地形系数热更新：叠加当前坡度补偿
			t.calories.SetTerrainFactor(t.classifier.EnhancedFactor(t.Grade()))
			t.logger.Debug("Terrain factor updated",
				zap.String("terrain", string(u.Terrain)),
				zap.Float64("factor", u.Factor),
				zap.Float64("confidence", u.Confidence))
			t.notify()
		}
	}
}

// IngestLocation 喂入一个定位点：驱动海拔融合、坡度、运动模式，
// 并按需触发逆地理编码与天气刷新。
func (t *Tracker) IngestLocation(ctx context.Context, fix models.LocationFix) {
	sample := models.AltitudeSample{
		Timestamp:        fix.Timestamp,
		GPSAltitude:      models.Float64Ptr(fix.Altitude),
		VerticalAccuracy: fix.VerticalAccuracy,
	}
	st := t.fusion.Ingest(sample)

	t.mu.Lock()
	if t.havePrev {
		dist := haversine(t.prevLat, t.prevLng, fix.Latitude, fix.Longitude)
		// 距离过短时坡度数值不稳定，维持上一值
		if dist >= 5 {
			t.grade = fusion.Grade(st.Altitude-t.prevAlt, dist)
			t.prevAlt, t.prevLat, t.prevLng = st.Altitude, fix.Latitude, fix.Longitude
		}
	} else {
		t.prevAlt, t.prevLat, t.prevLng = st.Altitude, fix.Latitude, fix.Longitude
		t.havePrev = true
	}
	t.lastFix = &fix
	t.mu.Unlock()

	if fix.Speed >= 0 {
		t.sampler.RecordSpeed(fix.Speed)
	}

	t.maybeGeocode(ctx, fix)
	t.maybeRefreshWeather(ctx, fix)
	t.notify()
}

// IngestAltitude 喂入一条海拔观测（气压计路径）
func (t *Tracker) IngestAltitude(sample models.AltitudeSample) models.ElevationState {
	return t.fusion.Ingest(sample)
}

// IngestMotion 批量喂入运动样本并刷新地形的运动观测
func (t *Tracker) IngestMotion(samples []models.MotionSample) {
	t.analyzer.AddSamples(samples)

	features, err := t.analyzer.Features()
	if err != nil {
		t.classifier.RecordFailure(err)
		return
	}
	t.classifier.ObserveMotion(features)
}

// IngestBattery 喂入电池状态
func (t *Tracker) IngestBattery(b models.BatteryStatus) {
	t.sampler.UpdateBattery(b)
	t.notify()
}

// IngestWeather 外部直接提供天气（优先于自动拉取）
func (t *Tracker) IngestWeather(w models.Weather) {
	t.mu.Lock()
	t.latestWeather = &w
	t.mu.Unlock()
}

// maybeGeocode 节流的异步逆地理编码（同一时刻最多一个在途请求）
func (t *Tracker) maybeGeocode(ctx context.Context, fix models.LocationFix) {
	if t.geocoder == nil {
		return
	}
	t.mu.Lock()
	if t.geoBusy || time.Since(t.lastGeo) < 15*time.Second {
		t.mu.Unlock()
		return
	}
	t.geoBusy = true
	t.lastGeo = time.Now()
	t.mu.Unlock()

	go func() {
		defer func() {
			t.mu.Lock()
			t.geoBusy = false
			t.mu.Unlock()
		}()

		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.ProviderTimeout)
		defer cancel()

		hint, err := t.geocoder.ReverseGeocode(reqCtx, fix.Latitude, fix.Longitude)
		if err != nil {
			t.classifier.RecordFailure(models.ErrLocationUnavailable)
			t.logger.Debug("Reverse geocode failed", zap.Error(err))
			return
		}
		t.classifier.ObserveLocation(hint, fix.HorizontalAccuracy)
	}()
}

// maybeRefreshWeather 异步刷新天气（客户端自带缓存）
func (t *Tracker) maybeRefreshWeather(ctx context.Context, fix models.LocationFix) {
	if t.weatherSrc == nil {
		return
	}
	t.mu.Lock()
	fresh := t.latestWeather != nil && time.Since(t.latestWeather.Timestamp) < 10*time.Minute
	if t.weatherBusy || fresh {
		t.mu.Unlock()
		return
	}
	t.weatherBusy = true
	t.mu.Unlock()

	go func() {
		defer func() {
			t.mu.Lock()
			t.weatherBusy = false
			t.mu.Unlock()
		}()

		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.ProviderTimeout)
		defer cancel()

		w, err := t.weatherSrc.Current(reqCtx, fix.Latitude, fix.Longitude)
		if err != nil {
			t.logger.Debug("Weather refresh failed", zap.Error(err))
			return
		}
		t.IngestWeather(w)
	}()
}

// Grade 当前坡度百分比
func (t *Tracker) Grade() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.grade
}

// Snapshot 当前会话状态快照
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	sessionID := t.sessionID
	running := t.running
	grade := t.grade
	t.mu.Unlock()

	snap := Snapshot{
		SessionID:    sessionID,
		Running:      running,
		Elevation:    t.fusion.State(),
		GradePercent: grade,
		Terrain:      t.classifier.Current(),
		Movement:     t.sampler.Pattern(),
		GPSConfig:    t.sampler.Recommend(),
		Power:        t.sampler.PowerEstimate(),
		Alert:        t.sampler.Alert(),
		TotalKcal:    t.calories.Total(),
		Timestamp:    time.Now(),
	}
	if hist := t.calories.History(); len(hist) > 0 {
		last := hist[len(hist)-1]
		snap.LastCalorie = &last
	}
	return snap
}

// Subscribe 订阅快照更新（有界通道，慢消费者丢弃）
func (t *Tracker) Subscribe() <-chan Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan Snapshot, 10)
	t.subscribers = append(t.subscribers, ch)
	return ch
}

// notify 向订阅者广播最新快照
func (t *Tracker) notify() {
	snap := t.Snapshot()

	t.mu.Lock()
	subs := t.subscribers
	t.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Diagnostics 人类可读的诊断信息
func (t *Tracker) Diagnostics() []string {
	out := []string{}

	t.mu.Lock()
	if t.running {
		out = append(out, fmt.Sprintf("session %s running", t.sessionID))
	} else {
		out = append(out, "no active session")
	}
	grade := t.grade
	t.mu.Unlock()

	st := t.fusion.State()
	out = append(out, fmt.Sprintf("elevation %.1f m (confidence %.2f, calibrated %v)",
		st.Altitude, st.Confidence, st.Calibrated))
	if err := t.fusion.CapabilityError(); err != nil {
		out = append(out, fmt.Sprintf("elevation degraded: %v", err))
	}

	cur := t.classifier.Current()
	out = append(out, fmt.Sprintf("terrain %s (factor %.2f, confidence %.2f)",
		cur.Terrain, cur.Factor, cur.Confidence))
	if err := t.classifier.LastError(); err != nil {
		out = append(out, fmt.Sprintf("last terrain failure: %v", err))
	}

	out = append(out, fmt.Sprintf("grade %.1f%%, movement %s, gps tier %s",
		grade, t.sampler.Pattern(), t.sampler.Recommend().Tier))
	out = append(out, fmt.Sprintf("calories total %.1f kcal", t.calories.Total()))
	return out
}

// —— calorie.Provider 实现：连续计算从这里拉取当前读数 ——

// CurrentSpeed 最近定位的速度 (m/s)
func (t *Tracker) CurrentSpeed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastFix == nil || t.lastFix.Speed < 0 {
		return 0
	}
	return t.lastFix.Speed
}

// CurrentGrade 当前坡度百分比
func (t *Tracker) CurrentGrade() float64 {
	return t.Grade()
}

// CurrentAltitude 当前融合海拔
func (t *Tracker) CurrentAltitude() float64 {
	return t.fusion.State().Altitude
}

// CurrentWeather 最近的天气读数
func (t *Tracker) CurrentWeather() (models.Weather, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.latestWeather == nil {
		return models.Weather{}, false
	}
	return *t.latestWeather, true
}

// haversine 两个经纬度点间的地表距离（米）
func haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadius = 6371000.0
	rad := math.Pi / 180.0

	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadius * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
