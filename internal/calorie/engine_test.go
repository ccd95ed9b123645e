package calorie

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/rucksense/internal/models"
)

func newEngine() *Engine {
	return NewEngine(DefaultOptions(), zap.NewNop())
}

// referenceParams 70kg 体重 / 15kg 负重 / 1.34 m/s，无坡度无环境修正
func referenceParams() models.CalorieParameters {
	return models.CalorieParameters{
		BodyWeightKg:      70,
		LoadWeightKg:      15,
		SpeedMps:          1.34,
		GradePercent:      0,
		TemperatureC:      20,
		AltitudeM:         0,
		WindSpeedMps:      0,
		TerrainMultiplier: 1.0,
		Timestamp:         time.Now(),
	}
}

func TestReferenceMetabolicRate(t *testing.T) {
	e := newEngine()
	res, err := e.Calculate(referenceParams())
	require.NoError(t, err)

	assert.Greater(t, res.MetabolicRateKcalPerMin, 4.0)
	assert.Less(t, res.MetabolicRateKcalPerMin, 6.0)
	assert.InDelta(t, res.MetabolicRateKcalPerMin*0.9, res.ConfidenceInterval[0], 1e-9)
	assert.InDelta(t, res.MetabolicRateKcalPerMin*1.1, res.ConfidenceInterval[1], 1e-9)
}

func TestGradeAdjustment(t *testing.T) {
	e := newEngine()
	flat, err := e.Calculate(referenceParams())
	require.NoError(t, err)

	p := referenceParams()
	p.GradePercent = 10
	uphill, err := e.Calculate(p)
	require.NoError(t, err)

	// +10% 坡度 ≈ +45% 代谢率
	assert.InDelta(t, 1.45, uphill.MetabolicRateKcalPerMin/flat.MetabolicRateKcalPerMin, 0.05)

	p.GradePercent = -10
	downhill, err := e.Calculate(p)
	require.NoError(t, err)
	assert.Less(t, downhill.MetabolicRateKcalPerMin, flat.MetabolicRateKcalPerMin)
	assert.Greater(t, downhill.MetabolicRateKcalPerMin, 0.0)
}

func TestAltitudeAdjustment(t *testing.T) {
	e := newEngine()
	sea, err := e.Calculate(referenceParams())
	require.NoError(t, err)

	p := referenceParams()
	p.AltitudeM = 1000
	high, err := e.Calculate(p)
	require.NoError(t, err)

	assert.InDelta(t, 1.10, high.MetabolicRateKcalPerMin/sea.MetabolicRateKcalPerMin, 0.01)
}

func TestTemperatureOutsideComfortBandRaisesCost(t *testing.T) {
	e := newEngine()
	comfy, err := e.Calculate(referenceParams())
	require.NoError(t, err)

	cold := referenceParams()
	cold.TemperatureC = -10
	coldRes, err := e.Calculate(cold)
	require.NoError(t, err)
	assert.Greater(t, coldRes.MetabolicRateKcalPerMin, comfy.MetabolicRateKcalPerMin)

	hot := referenceParams()
	hot.TemperatureC = 40
	hotRes, err := e.Calculate(hot)
	require.NoError(t, err)
	assert.Greater(t, hotRes.MetabolicRateKcalPerMin, comfy.MetabolicRateKcalPerMin)
}

func TestTerrainMultiplierApplied(t *testing.T) {
	e := newEngine()
	road, err := e.Calculate(referenceParams())
	require.NoError(t, err)

	p := referenceParams()
	p.TerrainMultiplier = 2.1 // sand
	sand, err := e.Calculate(p)
	require.NoError(t, err)

	assert.InDelta(t, 2.1, sand.MetabolicRateKcalPerMin/road.MetabolicRateKcalPerMin, 0.01)
}

func TestValidationErrors(t *testing.T) {
	e := newEngine()

	p := referenceParams()
	p.BodyWeightKg = 250
	_, err := e.Calculate(p)
	assert.ErrorIs(t, err, models.ErrInvalidBodyWeight)

	p = referenceParams()
	p.LoadWeightKg = 150
	_, err = e.Calculate(p)
	assert.ErrorIs(t, err, models.ErrInvalidLoadWeight)

	p = referenceParams()
	p.SpeedMps = 5
	_, err = e.Calculate(p)
	assert.ErrorIs(t, err, models.ErrInvalidSpeed)

	// 校验失败不触碰累计状态
	assert.Equal(t, 0.0, e.Total())
	assert.Empty(t, e.History())
}

func TestExtremeInputsStayFinitePositive(t *testing.T) {
	e := newEngine()

	p := referenceParams()
	p.TerrainMultiplier = 0 // 非法地形系数按 1.0 处理
	p.TemperatureC = -60
	p.AltitudeM = 8848
	p.WindSpeedMps = 60

	res, err := e.Calculate(p)
	require.NoError(t, err)
	assert.Greater(t, res.MetabolicRateKcalPerMin, 0.0)
	assert.Less(t, res.MetabolicRateKcalPerMin, 1000.0)
	assert.Equal(t, 1.0, res.TerrainFactor)
}

func TestMonotonicAccumulationAndReset(t *testing.T) {
	e := newEngine()
	start := time.Now()

	var prevTotal float64
	for i := 0; i < 10; i++ {
		p := referenceParams()
		p.Timestamp = start.Add(time.Duration(i) * time.Minute)
		res, err := e.Calculate(p)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.CumulativeTotalKcal, prevTotal)
		prevTotal = res.CumulativeTotalKcal
	}

	// 9 分钟 × ~4.9 kcal/min
	assert.InDelta(t, 9*4.9, e.Total(), 5.0)

	e.Reset()
	assert.Equal(t, 0.0, e.Total())
	assert.Empty(t, e.History())
}

func TestHistoryBounded(t *testing.T) {
	e := newEngine()
	start := time.Now()
	for i := 0; i < 1200; i++ {
		p := referenceParams()
		p.Timestamp = start.Add(time.Duration(i) * time.Second)
		_, err := e.Calculate(p)
		require.NoError(t, err)
	}
	assert.Len(t, e.History(), 1000)
}

// stubProvider 固定读数的数据源
type stubProvider struct {
	speed, grade, altitude float64
}

func (s *stubProvider) CurrentSpeed() float64    { return s.speed }
func (s *stubProvider) CurrentGrade() float64    { return s.grade }
func (s *stubProvider) CurrentAltitude() float64 { return s.altitude }
func (s *stubProvider) CurrentWeather() (models.Weather, bool) {
	return models.Weather{TemperatureC: 20}, true
}

func TestContinuousModeAccumulates(t *testing.T) {
	opts := DefaultOptions()
	opts.TickInterval = 10 * time.Millisecond
	e := NewEngine(opts, zap.NewNop())

	e.StartContinuous(context.Background(), &stubProvider{speed: 1.34}, 70, 15)
	time.Sleep(100 * time.Millisecond)
	e.StopContinuous()

	assert.Greater(t, e.Total(), 0.0)
	assert.NotEmpty(t, e.History())

	// 停止幂等
	e.StopContinuous()
	e.StopContinuous()
}

func TestTerrainFactorHotUpdate(t *testing.T) {
	opts := DefaultOptions()
	opts.TickInterval = 10 * time.Millisecond
	e := NewEngine(opts, zap.NewNop())

	e.StartContinuous(context.Background(), &stubProvider{speed: 1.34}, 70, 15)
	time.Sleep(40 * time.Millisecond)
	before := e.Total()

	// 热更新地形系数不重置累计
	e.SetTerrainFactor(2.5)
	time.Sleep(40 * time.Millisecond)
	e.StopContinuous()

	assert.GreaterOrEqual(t, e.Total(), before)
	assert.Equal(t, 2.5, e.TerrainFactor())
}
