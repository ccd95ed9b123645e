package models

import (
	"errors"
	"fmt"
)

// 海拔融合错误
var (
	ErrAltimeterNotAvailable = errors.New("altimeter not available")
	ErrAuthorizationDenied   = errors.New("altimeter authorization denied")
)

// 地形识别错误
var (
	ErrLocationUnavailable    = errors.New("location unavailable")
	ErrMotionDataInsufficient = errors.New("motion data insufficient")
	ErrAnalysisTimeout        = errors.New("terrain analysis timeout")
)

// LowConfidenceError 置信度过低
type LowConfidenceError struct {
	Score float64
}

func (e *LowConfidenceError) Error() string {
	return fmt.Sprintf("terrain confidence too low: %.2f", e.Score)
}

// SensorFailureError 传感器失效
type SensorFailureError struct {
	Sensor string
}

func (e *SensorFailureError) Error() string {
	return fmt.Sprintf("sensor failure: %s", e.Sensor)
}

// 热量计算输入校验错误（该次调用失败，累计值不受影响）
var (
	ErrInvalidBodyWeight = errors.New("invalid body weight: must be 30-200 kg")
	ErrInvalidLoadWeight = errors.New("invalid load weight: must be 0-100 kg")
	ErrInvalidSpeed      = errors.New("invalid speed: must be 0-3 m/s")
)
