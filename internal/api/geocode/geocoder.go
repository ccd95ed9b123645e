// Package geocode 封装 Nominatim（OpenStreetMap）逆地理编码，
// 产出供地形分类使用的路面文本提示。仅消费其数据形状，
// 不在这里做任何分类决策。
package geocode

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

// Client 逆地理编码客户端
type Client struct {
	host       string
	httpClient *http.Client
	logger     *zap.Logger

	// 缓存：避免重复请求相同坐标
	cache   map[string]models.SurfaceHint
	cacheMu sync.RWMutex

	// Nominatim 请求限流（默认每秒最多 1 次）
	minGap      time.Duration
	lastRequest time.Time
	requestMu   sync.Mutex
}

// NewClient 创建客户端
func NewClient(host string, minGap time.Duration, timeout time.Duration, logger *zap.Logger) *Client {
	if host == "" {
		host = "https://nominatim.openstreetmap.org"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		host:       host,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		cache:      make(map[string]models.SurfaceHint),
		minGap:     minGap,
	}
}

// nominatimResponse Nominatim 逆地理编码响应（只取用到的字段）
type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Category    string `json:"category"`
	Type        string `json:"type"`
	Address     struct {
		Road    string `json:"road"`
		Footway string `json:"footway"`
		Path    string `json:"path"`
	} `json:"address"`
	ExtraTags struct {
		Surface string `json:"surface"`
	} `json:"extratags"`
}

// ReverseGeocode 根据经纬度获取路面提示
func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) (models.SurfaceHint, error) {
	// 缓存 key 精确到小数点后 4 位，约 11 米
	cacheKey := fmt.Sprintf("%.4f,%.4f", lat, lng)

	c.cacheMu.RLock()
	if hint, ok := c.cache[cacheKey]; ok {
		c.cacheMu.RUnlock()
		return hint, nil
	}
	c.cacheMu.RUnlock()

	// 限流
	c.requestMu.Lock()
	if gap := time.Since(c.lastRequest); gap < c.minGap {
		time.Sleep(c.minGap - gap)
	}
	c.lastRequest = time.Now()
	c.requestMu.Unlock()

	apiURL := fmt.Sprintf(
		"%s/reverse?lat=%.6f&lon=%.6f&format=json&extratags=1&zoom=17",
		c.host, lat, lng,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return models.SurfaceHint{}, fmt.Errorf("create request: %w", err)
	}
	// Nominatim 要求设置 User-Agent
	req.Header.Set("User-Agent", "Rucksense/1.0 (ruck march tracker)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.SurfaceHint{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.SurfaceHint{}, fmt.Errorf("nominatim api returned status %d", resp.StatusCode)
	}

	var result nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.SurfaceHint{}, fmt.Errorf("decode response: %w", err)
	}

	road := result.Address.Road
	if road == "" {
		road = result.Address.Footway
	}
	if road == "" {
		road = result.Address.Path
	}
	surface := result.ExtraTags.Surface
	if surface == "" {
		// OSM 的对象类型（如 path/track）也可作为路面线索
		surface = result.Type
	}

	hint := models.SurfaceHint{
		Road:        road,
		Surface:     surface,
		DisplayName: result.DisplayName,
		Timestamp:   time.Now(),
	}

	c.cacheMu.Lock()
	c.cache[cacheKey] = hint
	// 限制缓存大小（简单策略：超过 10000 条清空）
	if len(c.cache) > 10000 {
		c.cache = make(map[string]models.SurfaceHint)
		c.cache[cacheKey] = hint
	}
	c.cacheMu.Unlock()

	c.logger.Debug("Geocoded surface hint",
		zap.Float64("lat", lat),
		zap.Float64("lng", lng),
		zap.String("road", hint.Road),
		zap.String("surface", hint.Surface))

	return hint, nil
}

// CacheSize 获取缓存大小
func (c *Client) CacheSize() int {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return len(c.cache)
}

// ClearCache 清空缓存
func (c *Client) ClearCache() {
	c.cacheMu.Lock()
	c.cache = make(map[string]models.SurfaceHint)
	c.cacheMu.Unlock()
}
