package ledger

import (
	"sync"
	"time"
)

// Kind 日志条目类型
type Kind string

const (
	KindCredit          Kind = "credit"
	KindPayoutStarted   Kind = "payout_started"
	KindPayoutCompleted Kind = "payout_completed"
	KindPayoutRejected  Kind = "payout_rejected"
	KindPayoutStalled   Kind = "payout_stalled"
	KindStrayFeedback   Kind = "stray_feedback"
	KindSystem          Kind = "system"
)

// DefaultCapacity 内存窗口默认容量
const DefaultCapacity = 1000

// Entry 系统日志条目
type Entry struct {
	Seq     uint64                 `json:"seq"`
	Time    time.Time              `json:"time"`
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

// Sink 日志条目的下游接收方（持久化、日志输出等），尽力而为
type Sink interface {
	Write(entry Entry)
}

// SinkFunc 函数适配器
type SinkFunc func(entry Entry)

// Write 实现 Sink
func (f SinkFunc) Write(entry Entry) { f(entry) }

// SystemLog 只追加的系统日志。
// 仅用于审计和展示，不作为余额的依据。
type SystemLog struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	nextSeq  uint64
	sinks    []Sink
	now      func() time.Time
}

// NewSystemLog 创建系统日志，capacity<=0 时使用默认容量
func NewSystemLog(capacity int) *SystemLog {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &SystemLog{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
		nextSeq:  1,
		now:      time.Now,
	}
}

// AddSink 注册下游接收方
func (s *SystemLog) AddSink(sink Sink) {
	if sink == nil {
		return
	}
	s.mu.Lock()
	s.sinks = append(s.sinks, sink)
	s.mu.Unlock()
}

// SetClock 替换时钟（测试用）
func (s *SystemLog) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Append 追加一条日志并转发给所有 sink，返回带序号的条目
func (s *SystemLog) Append(kind Kind, message string, fields map[string]interface{}) Entry {
	s.mu.Lock()
	entry := Entry{
		Seq:     s.nextSeq,
		Time:    s.now(),
		Kind:    kind,
		Message: message,
		Fields:  fields,
	}
	s.nextSeq++

	// 超出窗口时淘汰最旧条目，序号继续递增
	if len(s.entries) >= s.capacity {
		copy(s.entries, s.entries[1:])
		s.entries = s.entries[:len(s.entries)-1]
	}
	s.entries = append(s.entries, entry)

	sinks := make([]Sink, len(s.sinks))
	copy(sinks, s.sinks)
	s.mu.Unlock()

	for _, sink := range sinks {
		sink.Write(entry)
	}
	return entry
}

// Entries 返回窗口内全部条目的副本
func (s *SystemLog) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Since 返回序号大于 seq 的条目
func (s *SystemLog) Since(seq uint64) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0)
	for _, e := range s.entries {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// Len 窗口内条目数
func (s *SystemLog) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// LastSeq 最近一条日志的序号，没有日志时为 0
func (s *SystemLog) LastSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSeq - 1
}
