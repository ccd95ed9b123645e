package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	ServerPort string
	Debug      bool

	// 海拔融合（Kalman 滤波参数）
	ProcessNoise        float64       // 过程噪声
	BaroNoise           float64       // 气压测量噪声
	GPSNoiseFloor       float64       // GPS 测量噪声下限
	CalibrationAccuracy float64       // 标定所需的 GPS 垂直精度上限（米）
	PressureStability   float64       // 气压稳定阈值（米/样本）
	CalibrationTimeout  time.Duration // 标定超时

	// 运动分析
	MotionWindowSize int     // 运动样本窗口上限
	MinMotionSamples int     // 提取特征所需最少样本
	StepFreqMin      float64 // 步频检测下限 (Hz)
	StepFreqMax      float64 // 步频检测上限 (Hz)

	// 地形识别（阈值为可调配置，系数表为权威常量）
	TerrainConfidenceFloor float64       // 低于该置信度回退默认地形
	DetectionTimeout       time.Duration // 单次识别超时

	// 自适应采样
	StationaryMax  float64       // m/s
	WalkingMax     float64       // m/s
	JoggingMax     float64       // m/s
	SpeedBufferLen int           // 速度平滑缓冲长度
	LongSessionAge time.Duration // 超过该时长强制超低功耗档

	// 热量计算
	CalorieTickInterval time.Duration // 连续计算周期
	ComfortTempMin      float64       // 舒适温度带下限（℃）
	ComfortTempMax      float64       // 舒适温度带上限（℃）

	// 外部数据源
	WeatherAPIHost   string
	GeocodeAPIHost   string
	ProviderTimeout  time.Duration
	GeocodeMinGapSec int // 逆地理编码最小请求间隔（秒）

	// 传感器能力（部署环境声明，缺失时海拔融合进入 GPS-only 降级）
	AltimeterAvailable bool
	LocationAuthorized bool
}

func Load() (*Config, error) {
	// 尝试加载 .env 文件（可选）
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort: getEnv("PORT", "4000"),
		Debug:      getEnvBool("DEBUG", false),

		ProcessNoise:        getEnvFloat("FUSION_PROCESS_NOISE", 0.01),
		BaroNoise:           getEnvFloat("FUSION_BARO_NOISE", 0.25),
		GPSNoiseFloor:       getEnvFloat("FUSION_GPS_NOISE_FLOOR", 1.0),
		CalibrationAccuracy: getEnvFloat("FUSION_CALIBRATION_ACCURACY", 10.0),
		PressureStability:   getEnvFloat("FUSION_PRESSURE_STABILITY", 0.5),
		CalibrationTimeout:  getEnvDuration("FUSION_CALIBRATION_TIMEOUT", 30*time.Second),

		MotionWindowSize: getEnvInt("MOTION_WINDOW_SIZE", 150),
		MinMotionSamples: getEnvInt("MOTION_MIN_SAMPLES", 20),
		StepFreqMin:      getEnvFloat("MOTION_STEP_FREQ_MIN", 0.5),
		StepFreqMax:      getEnvFloat("MOTION_STEP_FREQ_MAX", 4.0),

		TerrainConfidenceFloor: getEnvFloat("TERRAIN_CONFIDENCE_FLOOR", 0.6),
		DetectionTimeout:       getEnvDuration("TERRAIN_DETECTION_TIMEOUT", 5*time.Second),

		StationaryMax:  getEnvFloat("SAMPLING_STATIONARY_MAX", 0.5),
		WalkingMax:     getEnvFloat("SAMPLING_WALKING_MAX", 2.0),
		JoggingMax:     getEnvFloat("SAMPLING_JOGGING_MAX", 3.0),
		SpeedBufferLen: getEnvInt("SAMPLING_SPEED_BUFFER", 20),
		LongSessionAge: getEnvDuration("SAMPLING_LONG_SESSION", 2*time.Hour),

		CalorieTickInterval: getEnvDuration("CALORIE_TICK_INTERVAL", 10*time.Second),
		ComfortTempMin:      getEnvFloat("CALORIE_COMFORT_TEMP_MIN", 15.0),
		ComfortTempMax:      getEnvFloat("CALORIE_COMFORT_TEMP_MAX", 25.0),

		WeatherAPIHost:   getEnv("WEATHER_API_HOST", "https://api.open-meteo.com"),
		GeocodeAPIHost:   getEnv("GEOCODE_API_HOST", "https://nominatim.openstreetmap.org"),
		ProviderTimeout:  getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second),
		GeocodeMinGapSec: getEnvInt("GEOCODE_MIN_GAP_SEC", 1),

		AltimeterAvailable: getEnvBool("ALTIMETER_AVAILABLE", true),
		LocationAuthorized: getEnvBool("LOCATION_AUTHORIZED", true),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		n, err := strconv.Atoi(value)
		if err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
