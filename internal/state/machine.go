// Package state 维护徒步者的运动模式状态机。
// 模式由平滑后的速度派生；状态迁移经 looplab/fsm 串行化，
// 变更时回调通知（用于调整 GPS 采样档位）。
package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/langchou/rucksense/internal/models"
)

// 运动模式状态常量
const (
	StateUnknown    = string(models.PatternUnknown)
	StateStationary = string(models.PatternStationary)
	StateWalking    = string(models.PatternWalking)
	StateJogging    = string(models.PatternJogging)
	StateRunning    = string(models.PatternRunning)
)

// 事件常量
const (
	EventHalt = "halt"
	EventWalk = "walk"
	EventJog  = "jog"
	EventRun  = "run"
)

// eventFor 模式 → 触发事件
func eventFor(p models.MovementPattern) (string, bool) {
	switch p {
	case models.PatternStationary:
		return EventHalt, true
	case models.PatternWalking:
		return EventWalk, true
	case models.PatternJogging:
		return EventJog, true
	case models.PatternRunning:
		return EventRun, true
	}
	return "", false
}

// Machine 运动模式状态机
type Machine struct {
	mu       sync.RWMutex
	fsm      *fsm.FSM
	since    time.Time
	onChange func(from, to models.MovementPattern)
}

// NewMachine 创建状态机，初始状态 unknown
func NewMachine(onChange func(from, to models.MovementPattern)) *Machine {
	m := &Machine{
		since:    time.Now(),
		onChange: onChange,
	}

	others := func(exclude string) []string {
		all := []string{StateUnknown, StateStationary, StateWalking, StateJogging, StateRunning}
		out := make([]string, 0, len(all)-1)
		for _, s := range all {
			if s != exclude {
				out = append(out, s)
			}
		}
		return out
	}

	m.fsm = fsm.NewFSM(
		StateUnknown,
		fsm.Events{
			// 任意模式可直接切换到任意其他模式（速度是唯一依据）
			{Name: EventHalt, Src: others(StateStationary), Dst: StateStationary},
			{Name: EventWalk, Src: others(StateWalking), Dst: StateWalking},
			{Name: EventJog, Src: others(StateJogging), Dst: StateJogging},
			{Name: EventRun, Src: others(StateRunning), Dst: StateRunning},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onChange != nil && e.Src != e.Dst {
					m.onChange(models.MovementPattern(e.Src), models.MovementPattern(e.Dst))
				}
			},
		},
	)

	return m
}

// Current 当前运动模式
func (m *Machine) Current() models.MovementPattern {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return models.MovementPattern(m.fsm.Current())
}

// Since 当前模式的起始时间
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Apply 切换到目标模式；已处于该模式时为空操作
func (m *Machine) Apply(p models.MovementPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fsm.Current() == string(p) {
		return nil
	}
	event, ok := eventFor(p)
	if !ok {
		return fmt.Errorf("no transition to pattern %q", p)
	}
	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}
	m.since = time.Now()
	return nil
}
