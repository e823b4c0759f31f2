package status

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel_DrainEmpty(t *testing.T) {
	c := NewChannel(4)
	assert.Nil(t, c.Drain())
}

func TestChannel_DrainInOrderAndClears(t *testing.T) {
	c := NewChannel(4)
	c.Publish("one")
	c.Publishf("two %d", 2)

	assert.Equal(t, []string{"one", "two 2"}, c.Drain())
	assert.Nil(t, c.Drain())

	c.Publish("three")
	assert.Equal(t, []string{"three"}, c.Drain())
}

func TestChannel_OverflowReportsDropped(t *testing.T) {
	c := NewChannel(2)
	c.Publish("a")
	c.Publish("b")
	c.Publish("c")

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"1 earlier status messages dropped", "b", "c"}, c.Drain())
}

func TestChannel_ConcurrentPublishersKeepPerProducerOrder(t *testing.T) {
	c := NewChannel(1000)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Publish(fmt.Sprintf("%d:%03d", p, i))
			}
		}(p)
	}

	var got []string
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		got = append(got, c.Drain()...)
		select {
		case <-done:
			got = append(got, c.Drain()...)
			require.Len(t, got, 400)

			last := map[byte]string{}
			for _, m := range got {
				prev, ok := last[m[0]]
				if ok {
					assert.Less(t, prev, m)
				}
				last[m[0]] = m
			}
			return
		default:
		}
	}
}
