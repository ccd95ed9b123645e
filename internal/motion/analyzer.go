// Package motion 从加速度计/陀螺仪样本窗口提取步态特征。
// 窗口有界（默认 150 样本，旧样本淘汰）；步频通过垂直加速度的
// 自相关周期检测得到，方差与主导轴由 gonum/stat 计算。
package motion

import (
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/langchou/rucksense/internal/history"
	"github.com/langchou/rucksense/internal/models"
)

// Options 分析参数
type Options struct {
	WindowSize  int     // 样本窗口上限
	MinSamples  int     // 提取特征所需最少样本
	StepFreqMin float64 // 步频搜索下限 (Hz)
	StepFreqMax float64 // 步频搜索上限 (Hz)
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		WindowSize:  150,
		MinSamples:  20,
		StepFreqMin: 0.5,
		StepFreqMax: 4.0,
	}
}

// Analyzer 运动特征分析器；写入经内部互斥锁串行化，生产者可并发调用
type Analyzer struct {
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	window *history.Ring[models.MotionSample]
}

// NewAnalyzer 创建分析器
func NewAnalyzer(opts Options, logger *zap.Logger) *Analyzer {
	if opts.WindowSize <= 0 {
		opts.WindowSize = 150
	}
	if opts.MinSamples <= 0 {
		opts.MinSamples = 20
	}
	return &Analyzer{
		opts:   opts,
		logger: logger,
		window: history.NewRing[models.MotionSample](opts.WindowSize),
	}
}

// AddSample 追加一个样本；含 NaN/Inf 分量的样本直接丢弃
func (a *Analyzer) AddSample(s models.MotionSample) {
	if !finiteSample(s) {
		a.logger.Debug("Dropping non-finite motion sample")
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.window.Push(s)
}

// AddSamples 批量追加
func (a *Analyzer) AddSamples(samples []models.MotionSample) {
	for _, s := range samples {
		a.AddSample(s)
	}
}

// Len 当前窗口样本数
func (a *Analyzer) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.window.Len()
}

// Reset 清空窗口
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.window.Clear()
}

// Features 在当前窗口上提取特征。样本不足时返回 ErrMotionDataInsufficient。
// 允许乱序到达：提取前按时间戳排序而不是拒绝。
func (a *Analyzer) Features() (models.MotionFeatures, error) {
	a.mu.Lock()
	samples := a.window.Items()
	a.mu.Unlock()

	if len(samples) < a.opts.MinSamples {
		return models.MotionFeatures{}, models.ErrMotionDataInsufficient
	}

	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})

	ax := make([]float64, len(samples))
	ay := make([]float64, len(samples))
	az := make([]float64, len(samples))
	for i, s := range samples {
		ax[i], ay[i], az[i] = s.AccelX, s.AccelY, s.AccelZ
	}

	varX := stat.Variance(ax, nil)
	varY := stat.Variance(ay, nil)
	varZ := stat.Variance(az, nil)

	dominant := models.AxisZ
	switch {
	case varX >= varY && varX >= varZ:
		dominant = models.AxisX
	case varY >= varX && varY >= varZ:
		dominant = models.AxisY
	}

	rate := sampleRate(samples)
	freq := a.stepFrequency(az, rate)

	f := models.MotionFeatures{
		StepFrequency: sanitize(freq),
		AccelVariance: sanitize(varZ),
		DominantAxis:  dominant,
		SampleCount:   len(samples),
		WindowStart:   samples[0].Timestamp,
		WindowEnd:     samples[len(samples)-1].Timestamp,
	}
	return f, nil
}

// sampleRate 由时间戳中位间隔估计采样率 (Hz)
func sampleRate(samples []models.MotionSample) float64 {
	if len(samples) < 2 {
		return 0
	}
	gaps := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		dt := samples[i].Timestamp.Sub(samples[i-1].Timestamp).Seconds()
		if dt > 0 {
			gaps = append(gaps, dt)
		}
	}
	if len(gaps) == 0 {
		return 0
	}
	sort.Float64s(gaps)
	median := gaps[len(gaps)/2]
	if median <= 0 {
		return 0
	}
	return 1.0 / median
}

// stepFrequency 垂直加速度自相关周期检测。
// 在 [StepFreqMin, StepFreqMax] 对应的滞后范围内找归一化自相关峰值，
// 峰值过弱（无明显周期）时返回 0。
func (a *Analyzer) stepFrequency(signal []float64, rate float64) float64 {
	if rate <= 0 || len(signal) < 8 {
		return 0
	}

	mean := stat.Mean(signal, nil)
	centered := make([]float64, len(signal))
	var energy float64
	for i, v := range signal {
		centered[i] = v - mean
		energy += centered[i] * centered[i]
	}
	if energy < 1e-9 {
		return 0
	}

	minLag := int(rate / a.opts.StepFreqMax)
	maxLag := int(rate / a.opts.StepFreqMin)
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= len(centered) {
		maxLag = len(centered) - 1
	}
	if maxLag <= minLag {
		return 0
	}

	bestLag, bestCorr := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		for i := lag; i < len(centered); i++ {
			corr += centered[i] * centered[i-lag]
		}
		corr /= energy
		if corr > bestCorr {
			bestCorr, bestLag = corr, lag
		}
	}

	// 归一化自相关低于 0.3 视为无周期性
	if bestLag == 0 || bestCorr < 0.3 {
		return 0
	}
	return rate / float64(bestLag)
}

func finiteSample(s models.MotionSample) bool {
	for _, v := range []float64{s.AccelX, s.AccelY, s.AccelZ, s.GyroX, s.GyroY, s.GyroZ} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
