package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerCreditDebit(t *testing.T) {
	l := New()
	assert.Equal(t, int64(0), l.Balance())

	assert.Equal(t, int64(50), l.Credit(50))
	assert.Equal(t, int64(20), l.Debit(30))
	assert.Equal(t, int64(20), l.Balance())

	assert.Equal(t, int64(0), l.Debit(20))
}

func TestSystemLogAppendOrder(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewSystemLog(10)
	s.SetClock(func() time.Time { return fixed })

	e1 := s.Append(KindCredit, "+50", map[string]interface{}{"total": int64(50)})
	e2 := s.Append(KindPayoutStarted, "payout 30", nil)

	assert.Equal(t, uint64(1), e1.Seq)
	assert.Equal(t, uint64(2), e2.Seq)
	assert.Equal(t, fixed, e1.Time)

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, KindCredit, entries[0].Kind)
	assert.Equal(t, KindPayoutStarted, entries[1].Kind)
	assert.Equal(t, uint64(2), s.LastSeq())

	// 返回的是副本
	entries[0].Message = "changed"
	assert.Equal(t, "+50", s.Entries()[0].Message)
}

func TestSystemLogWindow(t *testing.T) {
	s := NewSystemLog(3)
	for i := 0; i < 5; i++ {
		s.Append(KindSystem, "tick", nil)
	}

	entries := s.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(3), entries[0].Seq)
	assert.Equal(t, uint64(5), entries[2].Seq)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, uint64(5), s.LastSeq())
}

func TestSystemLogSince(t *testing.T) {
	s := NewSystemLog(0)
	for i := 0; i < 4; i++ {
		s.Append(KindSystem, "x", nil)
	}

	since := s.Since(2)
	require.Len(t, since, 2)
	assert.Equal(t, uint64(3), since[0].Seq)
	assert.Empty(t, s.Since(4))
	assert.Len(t, s.Since(0), 4)
}

func TestSystemLogSinks(t *testing.T) {
	s := NewSystemLog(5)

	var (
		mu  sync.Mutex
		got []Entry
	)
	s.AddSink(SinkFunc(func(e Entry) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}))
	s.AddSink(nil)

	s.Append(KindPayoutRejected, "insufficient credit", map[string]interface{}{"amount": uint32(25)})
	s.Append(KindPayoutStalled, "stalled", nil)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, KindPayoutRejected, got[0].Kind)
	assert.Equal(t, uint32(25), got[0].Fields["amount"])
	assert.Equal(t, uint64(2), got[1].Seq)
}
