// Package weather 封装 Open-Meteo 当前天气查询，为热量引擎提供
// 温度/风速等环境数据。仅消费其数据形状。
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/rucksense/internal/models"
)

// 同一位置的天气在该时间内视为新鲜，避免高频请求
const cacheTTL = 10 * time.Minute

// Client Open-Meteo 客户端
type Client struct {
	host       string
	httpClient *http.Client
	logger     *zap.Logger

	mu        sync.RWMutex
	lastFetch time.Time
	cached    models.Weather
	haveCache bool
}

// NewClient 创建客户端
func NewClient(host string, timeout time.Duration, logger *zap.Logger) *Client {
	if host == "" {
		host = "https://api.open-meteo.com"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		host:       host,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// currentResponse Open-Meteo current weather 响应
type currentResponse struct {
	Current struct {
		Temperature2m      float64 `json:"temperature_2m"`
		RelativeHumidity2m float64 `json:"relative_humidity_2m"`
		WindSpeed10m       float64 `json:"wind_speed_10m"`
		WindDirection10m   float64 `json:"wind_direction_10m"`
		Precipitation      float64 `json:"precipitation"`
		SurfacePressure    float64 `json:"surface_pressure"`
	} `json:"current"`
}

// Current 查询当前天气；短时间内复用缓存
func (c *Client) Current(ctx context.Context, lat, lng float64) (models.Weather, error) {
	c.mu.RLock()
	if c.haveCache && time.Since(c.lastFetch) < cacheTTL {
		w := c.cached
		c.mu.RUnlock()
		return w, nil
	}
	c.mu.RUnlock()

	apiURL := fmt.Sprintf(
		"%s/v1/forecast?latitude=%.4f&longitude=%.4f&current=temperature_2m,relative_humidity_2m,wind_speed_10m,wind_direction_10m,precipitation,surface_pressure&wind_speed_unit=ms",
		c.host, lat, lng,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return models.Weather{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Weather{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Weather{}, fmt.Errorf("open-meteo api returned status %d", resp.StatusCode)
	}

	var result currentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.Weather{}, fmt.Errorf("decode response: %w", err)
	}

	w := models.Weather{
		TemperatureC:  result.Current.Temperature2m,
		Humidity:      result.Current.RelativeHumidity2m,
		WindSpeedMps:  result.Current.WindSpeed10m,
		WindDirection: result.Current.WindDirection10m,
		Precipitation: result.Current.Precipitation,
		PressureHPa:   result.Current.SurfacePressure,
		Timestamp:     time.Now(),
	}

	c.mu.Lock()
	c.cached = w
	c.lastFetch = w.Timestamp
	c.haveCache = true
	c.mu.Unlock()

	c.logger.Debug("Fetched weather",
		zap.Float64("temperature_c", w.TemperatureC),
		zap.Float64("wind_mps", w.WindSpeedMps))

	return w, nil
}
