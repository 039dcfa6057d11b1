package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKafkaSink_UnencodableEventIsRejected(t *testing.T) {
	sink := NewKafkaSink([]string{"127.0.0.1:1"}, "bot-events", zap.NewNop())
	t.Cleanup(func() { sink.Close() })

	err := sink.Publish(context.Background(), "alice", map[string]any{"bad": make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marshal event")
}

func TestNopSink_DropsEvents(t *testing.T) {
	var sink NopSink
	assert.NoError(t, sink.Publish(context.Background(), "alice", struct{}{}))
}
