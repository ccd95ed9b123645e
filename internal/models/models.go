package models

import "time"

// LocationFix 原始定位点（GPS 回调原样传入）
type LocationFix struct {
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	Altitude           float64   `json:"altitude"`             // 米
	Speed              float64   `json:"speed"`                // m/s，负值表示无效
	Course             float64   `json:"course"`               // 航向角（度）
	HorizontalAccuracy float64   `json:"horizontal_accuracy"`  // 米，负值表示无效
	VerticalAccuracy   float64   `json:"vertical_accuracy"`    // 米，负值表示无效
	Timestamp          time.Time `json:"timestamp"`
}

// AltitudeSample 单次海拔观测（气压计 + GPS，任一可缺失）
type AltitudeSample struct {
	Timestamp        time.Time `json:"timestamp"`
	BaroAltitude     *float64  `json:"baro_altitude,omitempty"`     // 气压计相对海拔（米）
	GPSAltitude      *float64  `json:"gps_altitude,omitempty"`      // GPS 海拔（米）
	VerticalAccuracy float64   `json:"vertical_accuracy"`           // GPS 垂直精度（米）
}

// ElevationState 融合后的海拔状态快照
type ElevationState struct {
	Altitude         float64   `json:"altitude"`          // 融合海拔（米）
	VerticalVelocity float64   `json:"vertical_velocity"` // 垂直速度（m/s）
	Covariance       float64   `json:"covariance"`        // 误差协方差迹
	Confidence       float64   `json:"confidence"`        // 置信度 [0,1]
	Calibrated       bool      `json:"calibrated"`        // 气压基准是否已标定
	BaroOffset       float64   `json:"baro_offset"`       // 气压→绝对海拔偏移（米）
	UpdatedAt        time.Time `json:"updated_at"`
}

// MotionSample 同步的加速度计 + 陀螺仪样本
type MotionSample struct {
	Timestamp time.Time `json:"timestamp"`
	AccelX    float64   `json:"accel_x"` // g
	AccelY    float64   `json:"accel_y"`
	AccelZ    float64   `json:"accel_z"`
	GyroX     float64   `json:"gyro_x"` // rad/s
	GyroY     float64   `json:"gyro_y"`
	GyroZ     float64   `json:"gyro_z"`
}

// Axis 主导运动轴
type Axis string

const (
	AxisX Axis = "x"
	AxisY Axis = "y"
	AxisZ Axis = "z"
)

// MotionFeatures 滑动窗口上提取的运动特征
type MotionFeatures struct {
	StepFrequency float64   `json:"step_frequency"` // Hz
	AccelVariance float64   `json:"accel_variance"` // 垂直加速度方差 (g²)
	DominantAxis  Axis      `json:"dominant_axis"`
	SampleCount   int       `json:"sample_count"`
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
}

// MovementPattern 运动模式
type MovementPattern string

const (
	PatternUnknown    MovementPattern = "unknown"
	PatternStationary MovementPattern = "stationary"
	PatternWalking    MovementPattern = "walking"
	PatternJogging    MovementPattern = "jogging"
	PatternRunning    MovementPattern = "running"
)

// AccuracyTier GPS 采样档位
type AccuracyTier string

const (
	TierHighPerformance AccuracyTier = "high_performance"
	TierBalanced        AccuracyTier = "balanced"
	TierBatterySaver    AccuracyTier = "battery_saver"
	TierCritical        AccuracyTier = "critical"
	TierUltraLow        AccuracyTier = "ultra_low"
)

// GPSConfiguration 推荐的 GPS 采样配置（不可变值对象）
type GPSConfiguration struct {
	Tier           AccuracyTier  `json:"tier"`
	DistanceFilter float64       `json:"distance_filter"` // 米
	UpdateInterval time.Duration `json:"update_interval"`
}

// BatteryStatus 电池原始状态
type BatteryStatus struct {
	Level        float64   `json:"level"`          // [0,1]
	Charging     bool      `json:"charging"`
	LowPowerMode bool      `json:"low_power_mode"` // 系统低电量模式
	Timestamp    time.Time `json:"timestamp"`
}

// PowerState 由电量派生的功耗状态
type PowerState string

const (
	PowerNormal   PowerState = "normal"
	PowerLow      PowerState = "low_power_mode"
	PowerCritical PowerState = "critical"
)

// PowerEstimate 当前档位的耗电估计（%/小时区间）
type PowerEstimate struct {
	Tier       AccuracyTier `json:"tier"`
	MinPerHour float64      `json:"min_per_hour"`
	MaxPerHour float64      `json:"max_per_hour"`
}

// BatteryAlert 低电量提醒建议（仅建议，展示由外部负责）
type BatteryAlert struct {
	ShouldAlert bool   `json:"should_alert"`
	Message     string `json:"message,omitempty"`
}

// Weather 环境气象数据（仅消费其数据形状）
type Weather struct {
	TemperatureC  float64   `json:"temperature_c"`
	Humidity      float64   `json:"humidity"`       // [0,100]
	WindSpeedMps  float64   `json:"wind_speed_mps"`
	WindDirection float64   `json:"wind_direction"` // 度
	Precipitation float64   `json:"precipitation"`  // mm
	PressureHPa   float64   `json:"pressure_hpa"`
	Timestamp     time.Time `json:"timestamp"`
}

// SurfaceHint 逆地理编码得到的路面文本提示
type SurfaceHint struct {
	Road        string    `json:"road,omitempty"`
	Surface     string    `json:"surface,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// CalorieParameters 单次热量计算输入（每次调用构造，不可变）
type CalorieParameters struct {
	BodyWeightKg      float64   `json:"body_weight_kg"`
	LoadWeightKg      float64   `json:"load_weight_kg"`
	SpeedMps          float64   `json:"speed_mps"`
	GradePercent      float64   `json:"grade_percent"`
	TemperatureC      float64   `json:"temperature_c"`
	AltitudeM         float64   `json:"altitude_m"`
	WindSpeedMps      float64   `json:"wind_speed_mps"`
	TerrainMultiplier float64   `json:"terrain_multiplier"`
	Timestamp         time.Time `json:"timestamp"`
}

// CalorieResult 单次热量计算结果
type CalorieResult struct {
	MetabolicRateKcalPerMin float64    `json:"metabolic_rate_kcal_per_min"`
	ConfidenceInterval      [2]float64 `json:"confidence_interval"` // [下界, 上界]
	CumulativeTotalKcal     float64    `json:"cumulative_total_kcal"`
	EnvironmentalFactor     float64    `json:"environmental_factor"`
	TerrainFactor           float64    `json:"terrain_factor"`
	GradeFactor             float64    `json:"grade_factor"`
	Timestamp               time.Time  `json:"timestamp"`
}

// Float64Ptr 构造 float64 指针（用于可选采样字段）
func Float64Ptr(v float64) *float64 { return &v }
