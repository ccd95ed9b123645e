package sampling

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/langchou/rucksense/internal/models"
)

func newController() *Controller {
	return NewController(DefaultOptions(), zap.NewNop())
}

func feedSpeed(c *Controller, speed float64, n int) {
	for i := 0; i < n; i++ {
		c.RecordSpeed(speed)
	}
}

func TestMovementClassification(t *testing.T) {
	cases := []struct {
		speed   float64
		pattern models.MovementPattern
	}{
		{0.1, models.PatternStationary},
		{1.3, models.PatternWalking},
		{2.5, models.PatternJogging},
		{3.8, models.PatternRunning},
	}
	for _, tc := range cases {
		c := newController()
		feedSpeed(c, tc.speed, 25)
		assert.Equal(t, tc.pattern, c.Pattern(), "speed %.1f", tc.speed)
	}
}

func TestSmoothingUsesRollingBuffer(t *testing.T) {
	c := newController()
	// 长时间步行后，单个离群的速度尖峰不应立即翻转模式
	feedSpeed(c, 1.2, 20)
	c.RecordSpeed(8.0)
	assert.Equal(t, models.PatternWalking, c.Pattern())
}

func TestInvalidSpeedDropped(t *testing.T) {
	c := newController()
	c.RecordSpeed(-1)
	c.RecordSpeed(math.NaN())
	c.RecordSpeed(math.Inf(1))
	assert.Equal(t, models.PatternUnknown, c.Pattern())
}

func TestBaselineTiers(t *testing.T) {
	cases := []struct {
		speed float64
		tier  models.AccuracyTier
	}{
		{0.1, models.TierBatterySaver},
		{1.3, models.TierBalanced},
		{2.5, models.TierHighPerformance},
		{3.8, models.TierHighPerformance},
	}
	for _, tc := range cases {
		c := newController()
		feedSpeed(c, tc.speed, 25)
		assert.Equal(t, tc.tier, c.Recommend().Tier, "speed %.1f", tc.speed)
	}
}

func TestCriticalBatteryForcesCriticalTier(t *testing.T) {
	c := newController()
	// 跑步（基线 high_performance），电量 8% 未充电
	feedSpeed(c, 3.8, 25)
	c.UpdateBattery(models.BatteryStatus{Level: 0.08, Charging: false, Timestamp: time.Now()})

	cfg := c.Recommend()
	assert.Equal(t, models.TierCritical, cfg.Tier)
	assert.Equal(t, models.PowerCritical, c.PowerState())
}

func TestLowPowerModeDegradesOneTier(t *testing.T) {
	c := newController()
	feedSpeed(c, 1.3, 25)
	c.UpdateBattery(models.BatteryStatus{Level: 0.6, LowPowerMode: true, Timestamp: time.Now()})

	// balanced → battery_saver，只降不升
	assert.Equal(t, models.TierBatterySaver, c.Recommend().Tier)
}

func TestLowBatteryDegradesOneTier(t *testing.T) {
	c := newController()
	feedSpeed(c, 3.8, 25)
	c.UpdateBattery(models.BatteryStatus{Level: 0.15, Timestamp: time.Now()})

	assert.Equal(t, models.TierBalanced, c.Recommend().Tier)
}

func TestLongSessionForcesUltraLow(t *testing.T) {
	c := newController()
	feedSpeed(c, 3.8, 25)
	c.setSessionStart(time.Now().Add(-3 * time.Hour))

	cfg := c.Recommend()
	assert.Equal(t, models.TierUltraLow, cfg.Tier)
	assert.GreaterOrEqual(t, cfg.DistanceFilter, 50.0)
	assert.GreaterOrEqual(t, cfg.UpdateInterval, 10*time.Second)
}

func TestPowerEstimateBands(t *testing.T) {
	want := map[models.AccuracyTier][2]float64{
		models.TierHighPerformance: {15, 18},
		models.TierBalanced:        {8, 12},
		models.TierBatterySaver:    {4, 7},
		models.TierCritical:        {2, 4},
		models.TierUltraLow:        {1, 3},
	}
	for tier, band := range want {
		assert.Equal(t, band, tierPower[tier], string(tier))
	}

	c := newController()
	feedSpeed(c, 1.3, 25)
	est := c.PowerEstimate()
	assert.Equal(t, models.TierBalanced, est.Tier)
	assert.Equal(t, 8.0, est.MinPerHour)
	assert.Equal(t, 12.0, est.MaxPerHour)
}

func TestBatteryAlert(t *testing.T) {
	c := newController()
	assert.False(t, c.Alert().ShouldAlert)

	c.UpdateBattery(models.BatteryStatus{Level: 0.15})
	alert := c.Alert()
	assert.True(t, alert.ShouldAlert)
	assert.NotEmpty(t, alert.Message)

	// 充电中不提醒
	c.UpdateBattery(models.BatteryStatus{Level: 0.05, Charging: true})
	assert.False(t, c.Alert().ShouldAlert)
}

func TestResetSession(t *testing.T) {
	c := newController()
	c.setSessionStart(time.Now().Add(-3 * time.Hour))
	c.ResetSession()
	assert.Less(t, c.SessionDuration(), time.Minute)
}
