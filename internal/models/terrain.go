package models

import "time"

// TerrainType 地形类型（8 类）
type TerrainType string

const (
	TerrainPavedRoad TerrainType = "paved_road"
	TerrainTrail     TerrainType = "trail"
	TerrainGravel    TerrainType = "gravel"
	TerrainSand      TerrainType = "sand"
	TerrainMud       TerrainType = "mud"
	TerrainSnow      TerrainType = "snow"
	TerrainStairs    TerrainType = "stairs"
	TerrainGrass     TerrainType = "grass"
)

// terrainFactors 地形难度系数表（权威常量，不可配置）
var terrainFactors = map[TerrainType]float64{
	TerrainPavedRoad: 1.0,
	TerrainTrail:     1.2,
	TerrainGrass:     1.2,
	TerrainGravel:    1.3,
	TerrainMud:       1.8,
	TerrainStairs:    2.0,
	TerrainSand:      2.1,
	TerrainSnow:      2.5,
}

// Factor 返回地形难度系数；未知类型按 trail 处理
func (t TerrainType) Factor() float64 {
	if f, ok := terrainFactors[t]; ok {
		return f
	}
	return terrainFactors[TerrainTrail]
}

// Valid 判断是否为已知地形类型
func (t TerrainType) Valid() bool {
	_, ok := terrainFactors[t]
	return ok
}

// AllTerrainTypes 返回全部地形类型
func AllTerrainTypes() []TerrainType {
	return []TerrainType{
		TerrainPavedRoad, TerrainTrail, TerrainGravel, TerrainSand,
		TerrainMud, TerrainSnow, TerrainStairs, TerrainGrass,
	}
}

// DetectionMethod 地形识别来源
type DetectionMethod string

const (
	MethodMotion   DetectionMethod = "motion"
	MethodLocation DetectionMethod = "location"
	MethodMapKit   DetectionMethod = "mapkit"
	MethodFusion   DetectionMethod = "fusion"
	MethodManual   DetectionMethod = "manual"
)

// TerrainObservation 一次地形观测（创建后不可变）
type TerrainObservation struct {
	Terrain    TerrainType     `json:"terrain"`
	Confidence float64         `json:"confidence"` // [0,1]
	Method     DetectionMethod `json:"method"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Factor 观测对应的基础难度系数
func (o TerrainObservation) Factor() float64 {
	return o.Terrain.Factor()
}

// TerrainUpdate 地形订阅流中的一条更新
type TerrainUpdate struct {
	Terrain    TerrainType `json:"terrain"`
	Factor     float64     `json:"factor"`
	Confidence float64     `json:"confidence"`
	Timestamp  time.Time   `json:"timestamp"`
}
