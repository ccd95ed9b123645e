// Package history 提供有界环形缓冲，作为进程内的观测历史存储。
// 所有引擎的历史（地形 100 条、热量 1000 条、运动窗口 150 条、速度 20 条）
// 都复用这一容器；容量写满后最旧的条目被淘汰。
package history

import "sync"

// Ring 有界环形缓冲（FIFO，满时淘汰最旧条目）
type Ring[T any] struct {
	mu    sync.RWMutex
	buf   []T
	head  int // 下一个写入位置
	count int
	cap   int
}

// NewRing 创建容量为 capacity 的环形缓冲
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		buf: make([]T, capacity),
		cap: capacity,
	}
}

// Push 追加一条记录；若已满则覆盖最旧记录
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.head] = v
	r.head = (r.head + 1) % r.cap
	if r.count < r.cap {
		r.count++
	}
}

// Len 当前记录数（≤ 容量）
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap 容量上限
func (r *Ring[T]) Cap() int {
	return r.cap
}

// Items 按时间顺序（旧→新）返回全部记录的副本
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, 0, r.count)
	start := r.head - r.count
	if start < 0 {
		start += r.cap
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%r.cap])
	}
	return out
}

// Latest 返回最新一条记录
func (r *Ring[T]) Latest() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	if r.count == 0 {
		return zero, false
	}
	idx := r.head - 1
	if idx < 0 {
		idx += r.cap
	}
	return r.buf[idx], true
}

// Clear 清空全部记录
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.head = 0
	r.count = 0
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
}
