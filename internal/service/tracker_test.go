package service

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/rucksense/internal/calorie"
	"github.com/langchou/rucksense/internal/config"
	"github.com/langchou/rucksense/internal/fusion"
	"github.com/langchou/rucksense/internal/models"
	"github.com/langchou/rucksense/internal/motion"
	"github.com/langchou/rucksense/internal/sampling"
	"github.com/langchou/rucksense/internal/terrain"
)

type trackerParts struct {
	tracker    *Tracker
	classifier *terrain.Classifier
	calories   *calorie.Engine
}

func newTestTracker(t *testing.T, geocoder Geocoder) trackerParts {
	t.Helper()
	logger := zap.NewNop()

	fusionEngine, err := fusion.NewEngine(fusion.DefaultOptions(), fusion.Capabilities{
		AltimeterAvailable: true,
		Authorized:         true,
	}, logger)
	require.NoError(t, err)

	classifier := terrain.NewClassifier(terrain.DefaultOptions(), logger)
	analyzer := motion.NewAnalyzer(motion.DefaultOptions(), logger)
	sampler := sampling.NewController(sampling.DefaultOptions(), logger)

	calOpts := calorie.DefaultOptions()
	calOpts.TickInterval = 10 * time.Millisecond
	calories := calorie.NewEngine(calOpts, logger)

	cfg := &config.Config{ProviderTimeout: time.Second}
	tracker := NewTracker(cfg, logger, fusionEngine, analyzer, classifier, sampler, calories, geocoder, nil)
	return trackerParts{tracker: tracker, classifier: classifier, calories: calories}
}

func fixAt(lat, lng, alt, speed float64, ts time.Time) models.LocationFix {
	return models.LocationFix{
		Latitude:           lat,
		Longitude:          lng,
		Altitude:           alt,
		Speed:              speed,
		HorizontalAccuracy: 5,
		VerticalAccuracy:   3,
		Timestamp:          ts,
	}
}

func TestStartStopIdempotent(t *testing.T) {
	p := newTestTracker(t, nil)

	require.NoError(t, p.tracker.Start(context.Background(), 70, 15))
	assert.True(t, p.tracker.Running())
	first := p.tracker.Snapshot().SessionID
	assert.NotEmpty(t, first)

	// 重复启动不更换会话
	require.NoError(t, p.tracker.Start(context.Background(), 70, 15))
	assert.Equal(t, first, p.tracker.Snapshot().SessionID)

	p.tracker.Stop()
	assert.False(t, p.tracker.Running())
	p.tracker.Stop()

	// 停止后可重新开启新会话
	require.NoError(t, p.tracker.Start(context.Background(), 70, 15))
	assert.NotEqual(t, first, p.tracker.Snapshot().SessionID)
	p.tracker.Stop()
}

func TestIngestLocationDrivesGradeAndPattern(t *testing.T) {
	p := newTestTracker(t, nil)
	ts := time.Now()

	// 两点相距约 111 米，海拔上升
	p.tracker.IngestLocation(context.Background(), fixAt(39.0000, 116.0000, 100, 1.4, ts))
	for i := 1; i <= 20; i++ {
		p.tracker.IngestLocation(context.Background(),
			fixAt(39.0000+0.001*float64(i), 116.0000, 100+10*float64(i), 1.4, ts.Add(time.Duration(i)*time.Minute)))
	}

	assert.Greater(t, p.tracker.Grade(), 0.0)

	snap := p.tracker.Snapshot()
	assert.Equal(t, models.PatternWalking, snap.Movement)
	assert.Greater(t, snap.Elevation.Altitude, 100.0)
}

func TestIngestMotionFeedsTerrain(t *testing.T) {
	p := newTestTracker(t, nil)
	ts := time.Now()

	// 50 Hz、约 1.8 Hz 步频的行走波形
	samples := make([]models.MotionSample, 0, 150)
	for i := 0; i < 150; i++ {
		tsample := ts.Add(time.Duration(i) * 20 * time.Millisecond)
		phase := 2 * math.Pi * 1.8 * float64(i) * 0.02
		samples = append(samples, models.MotionSample{
			Timestamp: tsample,
			AccelX:    0.05,
			AccelY:    0.05,
			AccelZ:    0.4 * math.Sin(phase),
		})
	}
	p.tracker.IngestMotion(samples)

	cur := p.classifier.Current()
	assert.Greater(t, cur.Confidence, 0.0)
	assert.True(t, cur.Terrain.Valid())
}

func TestInsufficientMotionRecordsFailure(t *testing.T) {
	p := newTestTracker(t, nil)
	p.tracker.IngestMotion([]models.MotionSample{{Timestamp: time.Now()}})
	assert.ErrorIs(t, p.classifier.LastError(), models.ErrMotionDataInsufficient)
}

func TestTerrainUpdateFeedsCalorieFactor(t *testing.T) {
	p := newTestTracker(t, nil)
	require.NoError(t, p.tracker.Start(context.Background(), 70, 15))
	defer p.tracker.Stop()

	_, err := p.classifier.SetManual(models.TerrainSand)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return p.calories.TerrainFactor() == models.TerrainSand.Factor()
	}, time.Second, 10*time.Millisecond)
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	p := newTestTracker(t, nil)
	ch := p.tracker.Subscribe()

	p.tracker.IngestBattery(models.BatteryStatus{Level: 0.5, Timestamp: time.Now()})

	select {
	case snap := <-ch:
		assert.NotEmpty(t, snap.Power.Tier)
		assert.False(t, snap.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected a snapshot broadcast")
	}
}

// stubGeocoder 固定返回沙地路面提示
type stubGeocoder struct {
	mu    sync.Mutex
	calls int
}

func (s *stubGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (models.SurfaceHint, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return models.SurfaceHint{Surface: "sand", Timestamp: time.Now()}, nil
}

func TestGeocodeObservationFlowsIntoClassifier(t *testing.T) {
	geo := &stubGeocoder{}
	p := newTestTracker(t, geo)

	p.tracker.IngestLocation(context.Background(), fixAt(39.0, 116.0, 100, 1.4, time.Now()))

	assert.Eventually(t, func() bool {
		return p.classifier.Current().Terrain == models.TerrainSand
	}, time.Second, 10*time.Millisecond)

	// 节流窗口内重复定位不再触发请求
	p.tracker.IngestLocation(context.Background(), fixAt(39.0001, 116.0, 100, 1.4, time.Now()))
	time.Sleep(50 * time.Millisecond)
	geo.mu.Lock()
	defer geo.mu.Unlock()
	assert.Equal(t, 1, geo.calls)
}

func TestProviderReadings(t *testing.T) {
	p := newTestTracker(t, nil)

	assert.Equal(t, 0.0, p.tracker.CurrentSpeed())
	_, ok := p.tracker.CurrentWeather()
	assert.False(t, ok)

	p.tracker.IngestWeather(models.Weather{TemperatureC: -5, Timestamp: time.Now()})
	w, ok := p.tracker.CurrentWeather()
	assert.True(t, ok)
	assert.Equal(t, -5.0, w.TemperatureC)

	p.tracker.IngestLocation(context.Background(), fixAt(39.0, 116.0, 100, 1.2, time.Now()))
	assert.InDelta(t, 1.2, p.tracker.CurrentSpeed(), 1e-9)
}

func TestResetRequiresStoppedSession(t *testing.T) {
	p := newTestTracker(t, nil)
	require.NoError(t, p.tracker.Start(context.Background(), 70, 15))
	assert.Error(t, p.tracker.Reset())

	p.tracker.Stop()
	require.NoError(t, p.tracker.Reset())
	assert.Equal(t, 0.0, p.tracker.Grade())
	assert.Equal(t, 0.0, p.calories.Total())
}

func TestDiagnosticsReadable(t *testing.T) {
	p := newTestTracker(t, nil)
	lines := p.tracker.Diagnostics()
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "no active session")
}

func TestHaversine(t *testing.T) {
	// 赤道上 0.001 度经度 ≈ 111 米
	d := haversine(0, 0, 0, 0.001)
	assert.InDelta(t, 111.0, d, 1.0)
	assert.Equal(t, 0.0, haversine(39, 116, 39, 116))
}
