package fusion

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/rucksense/internal/models"
)

func fullCaps() Capabilities {
	return Capabilities{AltimeterAvailable: true, Authorized: true}
}

func sampleAt(ts time.Time, baro, gps float64, vAcc float64) models.AltitudeSample {
	return models.AltitudeSample{
		Timestamp:        ts,
		BaroAltitude:     models.Float64Ptr(baro),
		GPSAltitude:      models.Float64Ptr(gps),
		VerticalAccuracy: vAcc,
	}
}

func TestEngineConvergesToTrueAltitude(t *testing.T) {
	e, err := NewEngine(DefaultOptions(), fullCaps(), zap.NewNop())
	require.NoError(t, err)

	ts := time.Now()
	var st models.ElevationState
	for i := 0; i < 50; i++ {
		// 气压相对读数 0 + GPS 绝对海拔 100：标定后两源一致
		st = e.Ingest(sampleAt(ts.Add(time.Duration(i)*time.Second), 0, 100, 3.0))
	}

	assert.True(t, st.Calibrated)
	assert.InDelta(t, 100.0, st.Altitude, 1.0)
	assert.GreaterOrEqual(t, st.Confidence, 0.0)
	assert.LessOrEqual(t, st.Confidence, 1.0)
	assert.True(t, e.MeetsAccuracyTarget())
}

func TestCalibrationRequiresAccurateGPS(t *testing.T) {
	e, err := NewEngine(DefaultOptions(), fullCaps(), zap.NewNop())
	require.NoError(t, err)

	ts := time.Now()
	// 垂直精度 50 米，超过标定阈值，不应完成标定
	st := e.Ingest(sampleAt(ts, 0, 100, 50.0))
	assert.False(t, st.Calibrated)

	// 精度达标后完成标定
	st = e.Ingest(sampleAt(ts.Add(time.Second), 0.1, 100, 4.0))
	assert.True(t, st.Calibrated)
	assert.InDelta(t, 99.9, st.BaroOffset, 0.2)
}

func TestCalibrationTimeoutFallsBackToGPSOnly(t *testing.T) {
	opts := DefaultOptions()
	opts.CalibrationTimeout = 5 * time.Second
	e, err := NewEngine(opts, fullCaps(), zap.NewNop())
	require.NoError(t, err)

	ts := time.Now()
	// 只有气压、没有可标定的 GPS，超时后进入 GPS-only 回退
	for i := 0; i < 10; i++ {
		e.Ingest(models.AltitudeSample{
			Timestamp:    ts.Add(time.Duration(i) * time.Second),
			BaroAltitude: models.Float64Ptr(1.0),
		})
	}

	st := e.Ingest(sampleAt(ts.Add(20*time.Second), 1.0, 250, 4.0))
	assert.False(t, st.Calibrated)
	assert.InDelta(t, 250, st.Altitude, 5.0)
}

func TestDegradedModeWithoutAltimeter(t *testing.T) {
	e, err := NewEngine(DefaultOptions(), Capabilities{AltimeterAvailable: false}, zap.NewNop())
	require.ErrorIs(t, err, models.ErrAltimeterNotAvailable)
	require.NotNil(t, e)

	ts := time.Now()
	var st models.ElevationState
	for i := 0; i < 30; i++ {
		st = e.Ingest(models.AltitudeSample{
			Timestamp:        ts.Add(time.Duration(i) * time.Second),
			GPSAltitude:      models.Float64Ptr(500),
			VerticalAccuracy: 2.0,
		})
	}

	// 降级模式仍然输出估计，但达不到精度目标
	assert.InDelta(t, 500, st.Altitude, 2.0)
	assert.False(t, e.MeetsAccuracyTarget())
	assert.ErrorIs(t, e.CapabilityError(), models.ErrAltimeterNotAvailable)
}

func TestAuthorizationDenied(t *testing.T) {
	_, err := NewEngine(DefaultOptions(), Capabilities{AltimeterAvailable: true, Authorized: false}, zap.NewNop())
	assert.ErrorIs(t, err, models.ErrAuthorizationDenied)
}

func TestNaNInputsDropped(t *testing.T) {
	e, err := NewEngine(DefaultOptions(), fullCaps(), zap.NewNop())
	require.NoError(t, err)

	ts := time.Now()
	e.Ingest(sampleAt(ts, 0, 100, 3.0))
	st := e.Ingest(models.AltitudeSample{
		Timestamp:        ts.Add(time.Second),
		BaroAltitude:     models.Float64Ptr(math.NaN()),
		GPSAltitude:      models.Float64Ptr(math.Inf(1)),
		VerticalAccuracy: 3.0,
	})

	assert.False(t, math.IsNaN(st.Altitude))
	assert.False(t, math.IsNaN(st.Confidence))
	assert.InDelta(t, 100, st.Altitude, 2.0)
}

func TestGradeClamped(t *testing.T) {
	assert.InDelta(t, 10.0, Grade(10, 100), 1e-9)
	assert.Equal(t, 20.0, Grade(50, 100))
	assert.Equal(t, -20.0, Grade(-50, 100))
	assert.Equal(t, 0.0, Grade(10, 0))
	assert.Equal(t, 0.0, Grade(math.NaN(), 100))
}

func TestReset(t *testing.T) {
	e, err := NewEngine(DefaultOptions(), fullCaps(), zap.NewNop())
	require.NoError(t, err)

	ts := time.Now()
	for i := 0; i < 10; i++ {
		e.Ingest(sampleAt(ts.Add(time.Duration(i)*time.Second), 0, 100, 3.0))
	}
	require.True(t, e.State().Calibrated)

	e.Reset()
	st := e.State()
	assert.False(t, st.Calibrated)
	assert.Equal(t, 0.0, st.Confidence)
	assert.Equal(t, 0.0, st.Altitude)
}
