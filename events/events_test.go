package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSink(t *testing.T) (*AMQPSink, *MockAMQPChannel) {
	t.Helper()
	channel := &MockAMQPChannel{}
	dialer := &MockAMQPDialer{
		MockConnection: &MockAMQPConnection{MockChannel: channel},
	}
	sink, err := NewAMQPSinkWithDialer(dialer, "amqp://localhost:5672", "airlock.events")
	require.NoError(t, err)
	return sink, channel
}

func TestAMQPSinkDeclaresDurableQueue(t *testing.T) {
	_, channel := newTestSink(t)
	assert.True(t, channel.QueueDeclareCalled)
	assert.Equal(t, "airlock.events", channel.LastQueueName)
	assert.True(t, channel.LastDurable)
}

func TestAMQPSinkEmitPayload(t *testing.T) {
	sink, channel := newTestSink(t)

	event := New(RequestSubmitted, "req-1", "ws1", "alice", "alice", 1)
	require.NoError(t, sink.Emit(context.Background(), event))

	require.Len(t, channel.PublishedMessages, 1)
	assert.Equal(t, "", channel.LastExchange)
	assert.Equal(t, "airlock.events", channel.LastKey)
	assert.Equal(t, "application/json", channel.PublishedMessages[0].ContentType)

	var decoded Event
	require.NoError(t, json.Unmarshal(channel.PublishedMessages[0].Body, &decoded))
	assert.Equal(t, RequestSubmitted, decoded.Name)
	assert.Equal(t, "req-1", decoded.RequestID)
	assert.Equal(t, "ws1", decoded.Workspace)
	assert.Equal(t, "alice", decoded.Author)
	assert.Equal(t, 1, decoded.Turn)
	assert.NotEmpty(t, decoded.ID)
	assert.False(t, decoded.Timestamp.IsZero())
}

func TestAMQPSinkEmitError(t *testing.T) {
	sink, channel := newTestSink(t)
	channel.PublishErr = errors.New("broker gone")

	err := sink.Emit(context.Background(), New(RequestReleased, "req-1", "ws1", "alice", "system", 2))
	assert.Error(t, err)
}

func TestAMQPSinkDialFailureCleansUp(t *testing.T) {
	dialer := &MockAMQPDialer{DialErr: errors.New("refused")}
	_, err := NewAMQPSinkWithDialer(dialer, "amqp://localhost:5672", "airlock.events")
	assert.Error(t, err)
}

func TestAMQPSinkChannelFailureClosesConnection(t *testing.T) {
	conn := &MockAMQPConnection{ChannelErr: errors.New("no channel")}
	dialer := &MockAMQPDialer{MockConnection: conn}
	_, err := NewAMQPSinkWithDialer(dialer, "amqp://localhost:5672", "airlock.events")
	assert.Error(t, err)
	assert.True(t, conn.CloseCalled)
}

func TestNopSink(t *testing.T) {
	var sink Sink = NopSink{}
	assert.NoError(t, sink.Emit(context.Background(), New(RequestRejected, "r", "w", "a", "b", 1)))
	assert.NoError(t, sink.Close())
}
