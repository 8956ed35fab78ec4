package pulse

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntakeCounterDrain(t *testing.T) {
	var c IntakeCounter

	c.OnEdge()
	c.OnEdge()
	c.OnEdges(3)
	c.OnEdges(0)

	assert.Equal(t, uint32(5), c.Pending())
	assert.Equal(t, uint32(5), c.Drain())

	// 连续两次 Drain，中间没有边沿，第二次必须为 0
	assert.Equal(t, uint32(0), c.Drain())
	assert.Equal(t, uint32(0), c.Pending())
}

func TestFeedbackCounterTotalDoesNotReset(t *testing.T) {
	var c FeedbackCounter

	c.OnEdge()
	c.OnEdge()
	assert.Equal(t, uint32(2), c.Total())
	assert.Equal(t, uint32(2), c.Total())

	c.OnEdges(2)
	assert.Equal(t, uint32(4), c.Total())

	assert.Equal(t, uint32(4), c.Reset())
	assert.Equal(t, uint32(0), c.Total())
	assert.Equal(t, uint32(0), c.Reset())
}

// 边沿回调与 Drain 并发执行时不丢失也不重复计数
func TestIntakeCounterConcurrentDrain(t *testing.T) {
	const (
		writers  = 8
		perWrite = 10000
	)

	var (
		c       IntakeCounter
		wg      sync.WaitGroup
		drained uint64
		stop    = make(chan struct{})
		done    = make(chan struct{})
	)

	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				drained += uint64(c.Drain())
			}
		}
	}()

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWrite; j++ {
				c.OnEdge()
			}
		}()
	}

	wg.Wait()
	close(stop)
	<-done
	drained += uint64(c.Drain())

	require.Equal(t, uint64(writers*perWrite), drained)
}

func TestFeedbackCounterConcurrentEdges(t *testing.T) {
	var (
		c  FeedbackCounter
		wg sync.WaitGroup
	)

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 2500; j++ {
				c.OnEdge()
				_ = c.Total()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint32(10000), c.Total())
}
