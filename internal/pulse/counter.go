// Package pulse 提供边沿脉冲计数器。
//
// 计数器是唯一会被"中断侧"（串口读协程、模拟器、GPIO回调）与调度任务同时访问的对象，
// 计数值只通过原子操作读写。投币计数与出币反馈计数的读取语义不同，分成两个类型：
// IntakeCounter 每次读取即清零（增量），FeedbackCounter 只读累计值、仅在新出币开始时清零。
//
// 计数器为 uint32，达到上限后自然回绕，不做特殊处理。
package pulse

import "sync/atomic"

// Sink 边沿事件接收方（由硬件侧调用）
type Sink interface {
	OnEdge()
	OnEdges(n uint32)
}

// IntakeCounter 投币/纸币器脉冲计数器
type IntakeCounter struct {
	count atomic.Uint32
}

// OnEdge 记录一个下降沿
func (c *IntakeCounter) OnEdge() {
	c.count.Add(1)
}

// OnEdges 记录 n 个下降沿（串口桥可能合并上报）
func (c *IntakeCounter) OnEdges(n uint32) {
	if n == 0 {
		return
	}
	c.count.Add(n)
}

// Drain 原子地读取并清零，返回自上次 Drain 以来的脉冲数
func (c *IntakeCounter) Drain() uint32 {
	return c.count.Swap(0)
}

// Pending 当前尚未被 Drain 的脉冲数，仅用于诊断
func (c *IntakeCounter) Pending() uint32 {
	return c.count.Load()
}

// FeedbackCounter 出币机反馈脉冲计数器
type FeedbackCounter struct {
	count atomic.Uint32
}

// OnEdge 记录一枚已出的币
func (c *FeedbackCounter) OnEdge() {
	c.count.Add(1)
}

// OnEdges 记录 n 枚已出的币
func (c *FeedbackCounter) OnEdges(n uint32) {
	if n == 0 {
		return
	}
	c.count.Add(n)
}

// Total 读取累计值，不清零
func (c *FeedbackCounter) Total() uint32 {
	return c.count.Load()
}

// Reset 清零并返回清零前的值
func (c *FeedbackCounter) Reset() uint32 {
	return c.count.Swap(0)
}

var (
	_ Sink = (*IntakeCounter)(nil)
	_ Sink = (*FeedbackCounter)(nil)
)
