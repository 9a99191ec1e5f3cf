package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorTiming(t *testing.T) {
	c := NewCollector()

	c.RecordTiming(OpSend, 10*time.Millisecond)
	c.RecordTiming(OpSend, 30*time.Millisecond)

	snap := c.Snapshot()
	require.NotNil(t, snap.Send)
	assert.Equal(t, int64(2), snap.Send.Count)
	assert.Equal(t, int64(10), snap.Send.MinTimeMs)
	assert.Equal(t, int64(30), snap.Send.MaxTimeMs)
	assert.InDelta(t, 20.0, snap.Send.AvgTimeMs, 0.001)
	assert.Nil(t, snap.Send.TotalInputTokens, "timing-only ops carry no token stats")
	assert.Nil(t, snap.BackendChat, "untouched ops are omitted")
}

func TestCollectorLLMUsage(t *testing.T) {
	c := NewCollector()

	c.RecordLLMUsage(OpLLMGenerate, time.Second, 100, 20)
	c.RecordLLMUsage(OpLLMGenerate, time.Second, 50, 40)

	snap := c.Snapshot()
	require.NotNil(t, snap.LLMGenerate)
	require.NotNil(t, snap.LLMGenerate.TotalInputTokens)
	assert.Equal(t, int64(150), *snap.LLMGenerate.TotalInputTokens)
	assert.Equal(t, int64(60), *snap.LLMGenerate.TotalOutputTokens)
	assert.Equal(t, int64(50), *snap.LLMGenerate.MinInputTokens)
	assert.Equal(t, int64(40), *snap.LLMGenerate.MaxOutputTokens)
}

func TestCollectorErrors(t *testing.T) {
	c := NewCollector()
	c.RecordError(OpStoreWrite)
	c.RecordError(OpStoreWrite)

	snap := c.Snapshot()
	assert.Equal(t, int64(2), snap.Errors[OpStoreWrite])
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordTiming(OpSend, time.Millisecond)
		c.RecordLLMUsage(OpLLMGenerate, time.Millisecond, 1, 1)
		c.RecordError(OpSend)
		c.Since(OpSend, time.Now())
	})
}
