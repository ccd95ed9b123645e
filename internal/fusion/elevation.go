// Package fusion 将气压计与 GPS 海拔融合为带置信度的海拔/坡度估计。
// 滤波器状态为 (海拔, 垂直速度) 二维 Kalman 滤波：预测步按速度外推，
// 更新步按各测量源上报的精度加权融合。气压海拔为相对量，需要先用一次
// 高精度 GPS 观测完成 气压→绝对海拔 的基准标定。
package fusion

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/langchou/rucksense/internal/models"
)

// Options 滤波与标定参数
type Options struct {
	ProcessNoise        float64       // 过程噪声谱密度
	BaroNoise           float64       // 气压测量噪声（方差，米²）
	GPSNoiseFloor       float64       // GPS 测量噪声下限（方差，米²）
	CalibrationAccuracy float64       // 标定允许的 GPS 垂直精度上限（米）
	PressureStability   float64       // 相邻气压样本间的稳定阈值（米）
	CalibrationTimeout  time.Duration // 首个气压样本起的标定超时
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		ProcessNoise:        0.01,
		BaroNoise:           0.25,
		GPSNoiseFloor:       1.0,
		CalibrationAccuracy: 10.0,
		PressureStability:   0.5,
		CalibrationTimeout:  30 * time.Second,
	}
}

// Capabilities 构造时注入的硬件能力开关，便于脱离真实传感器做单测
type Capabilities struct {
	AltimeterAvailable bool
	Authorized         bool
}

// Engine 海拔融合引擎；所有可变状态由内部互斥锁串行化
type Engine struct {
	opts   Options
	logger *zap.Logger

	mu          sync.Mutex
	x           *mat.VecDense // 状态向量 [海拔; 垂直速度]
	p           *mat.Dense    // 误差协方差 2x2
	initialized bool
	lastUpdate  time.Time

	// 气压标定
	baroEnabled   bool
	calibrated    bool
	baroOffset    float64
	lastBaro      float64
	haveBaro      bool
	firstBaroAt   time.Time
	calibrateDead bool // 标定超时后进入 GPS-only 回退

	confidence float64
	agreement  float64
	capErr     error
}

// NewEngine 创建引擎。气压计不可用或未授权时返回对应的类型化错误，
// 引擎仍然可用，以 GPS-only 降级模式运行（置信度相应降低）。
func NewEngine(opts Options, caps Capabilities, logger *zap.Logger) (*Engine, error) {
	e := &Engine{
		opts:        opts,
		logger:      logger,
		baroEnabled: caps.AltimeterAvailable && caps.Authorized,
		agreement:   1.0,
	}
	e.resetLocked()

	switch {
	case !caps.AltimeterAvailable:
		e.capErr = models.ErrAltimeterNotAvailable
	case !caps.Authorized:
		e.capErr = models.ErrAuthorizationDenied
	}
	if e.capErr != nil {
		logger.Warn("Barometer unavailable, running GPS-only degraded mode", zap.Error(e.capErr))
		return e, e.capErr
	}
	return e, nil
}

// CapabilityError 返回构造时记录的能力错误（诊断用）
func (e *Engine) CapabilityError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.capErr
}

// Ingest 喂入一条海拔观测；非法（NaN/Inf）的分量被丢弃
func (e *Engine) Ingest(sample models.AltitudeSample) models.ElevationState {
	e.mu.Lock()
	defer e.mu.Unlock()

	baro := sanitizePtr(sample.BaroAltitude)
	gps := sanitizePtr(sample.GPSAltitude)
	if !e.baroEnabled {
		baro = nil
	}

	e.calibrate(baro, gps, sample.VerticalAccuracy, sample.Timestamp)

	// 预测步
	if e.initialized {
		dt := sample.Timestamp.Sub(e.lastUpdate).Seconds()
		if dt > 0 {
			e.predict(dt)
		}
	}

	// 更新步：按测量源精度逐个融合
	var zBaro, zGPS *float64
	if baro != nil && e.calibrated {
		v := *baro + e.baroOffset
		zBaro = &v
	}
	if gps != nil {
		zGPS = gps
	}

	if zBaro != nil {
		e.update(*zBaro, e.opts.BaroNoise)
	}
	if zGPS != nil {
		r := e.opts.GPSNoiseFloor
		if acc := sample.VerticalAccuracy; acc > 0 {
			r = math.Max(acc*acc, e.opts.GPSNoiseFloor)
		}
		e.update(*zGPS, r)
	}

	// 测量源一致性：双源时按差值衰减，单源时维持上一次的值缓慢回归
	if zBaro != nil && zGPS != nil {
		e.agreement = math.Exp(-math.Abs(*zBaro-*zGPS) / 5.0)
	}

	if e.initialized {
		e.lastUpdate = sample.Timestamp
	}
	e.refreshConfidence()
	return e.snapshotLocked()
}

// State 返回当前融合状态的不可变快照
func (e *Engine) State() models.ElevationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Accuracy 当前海拔估计精度（标准差，米）
func (e *Engine) Accuracy() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return math.Sqrt(e.p.At(0, 0))
}

// MeetsAccuracyTarget 精度 ≤1.0 米且置信度 >0.7 时达标
func (e *Engine) MeetsAccuracyTarget() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return math.Sqrt(e.p.At(0, 0)) <= 1.0 && e.confidence > 0.7
}

// Reset 重置滤波器与标定基准
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

func (e *Engine) resetLocked() {
	// 初始不确定度取大值，首个测量会迅速收敛
	e.x = mat.NewVecDense(2, []float64{0, 0})
	e.p = mat.NewDense(2, 2, []float64{1000, 0, 0, 100})
	e.initialized = false
	e.calibrated = false
	e.calibrateDead = false
	e.haveBaro = false
	e.baroOffset = 0
	e.confidence = 0
	e.agreement = 1.0
	e.lastUpdate = time.Time{}
	e.firstBaroAt = time.Time{}
}

// calibrate 一次性气压基准标定：需要气压读数稳定且 GPS 垂直精度达标。
// 超时未完成则放弃，后续忽略气压、仅用 GPS。
func (e *Engine) calibrate(baro, gps *float64, vAcc float64, ts time.Time) {
	if e.calibrated || e.calibrateDead || !e.baroEnabled {
		if baro != nil {
			e.lastBaro, e.haveBaro = *baro, true
		}
		return
	}

	if baro != nil {
		if e.firstBaroAt.IsZero() {
			e.firstBaroAt = ts
		}
		stable := !e.haveBaro || math.Abs(*baro-e.lastBaro) <= e.opts.PressureStability
		if stable && gps != nil && vAcc > 0 && vAcc <= e.opts.CalibrationAccuracy {
			e.baroOffset = *gps - *baro
			e.calibrated = true
			e.logger.Info("Barometer calibrated",
				zap.Float64("offset", e.baroOffset),
				zap.Float64("vertical_accuracy", vAcc))
		}
		e.lastBaro, e.haveBaro = *baro, true
	}

	if !e.calibrated && !e.firstBaroAt.IsZero() && ts.Sub(e.firstBaroAt) > e.opts.CalibrationTimeout {
		e.calibrateDead = true
		e.logger.Warn("Barometer calibration timed out, falling back to GPS-only")
	}
}

// predict 按恒速模型外推状态并放大协方差
func (e *Engine) predict(dt float64) {
	f := mat.NewDense(2, 2, []float64{1, dt, 0, 1})

	var fx mat.VecDense
	fx.MulVec(f, e.x)
	e.x.CopyVec(&fx)

	var fp, fpf mat.Dense
	fp.Mul(f, e.p)
	fpf.Mul(&fp, f.T())

	q := e.opts.ProcessNoise
	fpf.Set(0, 0, fpf.At(0, 0)+q*dt)
	fpf.Set(1, 1, fpf.At(1, 1)+q*dt)
	e.p.Copy(&fpf)
}

// update 融合一个标量海拔测量（测量矩阵 H = [1 0]）
func (e *Engine) update(z, r float64) {
	if !isFinite(z) || r <= 0 {
		return
	}
	if !e.initialized {
		e.x.SetVec(0, z)
		e.x.SetVec(1, 0)
		e.p.Set(0, 0, r)
		e.p.Set(0, 1, 0)
		e.p.Set(1, 0, 0)
		e.p.Set(1, 1, 1.0)
		e.initialized = true
		return
	}

	y := z - e.x.AtVec(0)
	s := e.p.At(0, 0) + r
	k0 := e.p.At(0, 0) / s
	k1 := e.p.At(1, 0) / s

	e.x.SetVec(0, e.x.AtVec(0)+k0*y)
	e.x.SetVec(1, e.x.AtVec(1)+k1*y)

	p00 := (1 - k0) * e.p.At(0, 0)
	p01 := (1 - k0) * e.p.At(0, 1)
	p10 := e.p.At(1, 0) - k1*e.p.At(0, 0)
	p11 := e.p.At(1, 1) - k1*e.p.At(0, 1)
	e.p.Set(0, 0, p00)
	e.p.Set(0, 1, p01)
	e.p.Set(1, 0, p10)
	e.p.Set(1, 1, p11)
}

// refreshConfidence 由协方差迹与测量源一致性推出 [0,1] 置信度
func (e *Engine) refreshConfidence() {
	if !e.initialized {
		e.confidence = 0
		return
	}
	trace := e.p.At(0, 0) + e.p.At(1, 1)
	conf := 1.0 / (1.0 + trace)
	conf *= 0.5 + 0.5*e.agreement
	if !e.baroEnabled || e.calibrateDead {
		// GPS-only 降级模式置信度打折
		conf *= 0.7
	}
	e.confidence = clamp01(sanitize(conf))
}

func (e *Engine) snapshotLocked() models.ElevationState {
	return models.ElevationState{
		Altitude:         sanitize(e.x.AtVec(0)),
		VerticalVelocity: sanitize(e.x.AtVec(1)),
		Covariance:       sanitize(e.p.At(0, 0) + e.p.At(1, 1)),
		Confidence:       e.confidence,
		Calibrated:       e.calibrated,
		BaroOffset:       e.baroOffset,
		UpdatedAt:        e.lastUpdate,
	}
}

// Grade 两个融合点之间的坡度百分比，夹取到 [-20, 20]
func Grade(deltaAltitude, distance float64) float64 {
	if distance <= 0 || !isFinite(deltaAltitude) || !isFinite(distance) {
		return 0
	}
	g := 100 * deltaAltitude / distance
	if g > 20 {
		return 20
	}
	if g < -20 {
		return -20
	}
	return g
}

func sanitizePtr(v *float64) *float64 {
	if v == nil || !isFinite(*v) {
		return nil
	}
	return v
}

func sanitize(v float64) float64 {
	if !isFinite(v) {
		return 0
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
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
