package mq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx context.Context

	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	ch chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.ch }

func encoded(t *testing.T, e Event, offset int64) *sarama.ConsumerMessage {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: "warden.audit", Value: b, Offset: offset}
}

func runClaim(t *testing.T, c *Consumer, msgs ...*sarama.ConsumerMessage) *fakeSession {
	t.Helper()
	claim := &fakeClaim{ch: make(chan *sarama.ConsumerMessage, len(msgs))}
	for _, m := range msgs {
		claim.ch <- m
	}
	close(claim.ch)
	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, c.ConsumeClaim(session, claim))
	return session
}

func TestConsumer_DeliversAndMarks(t *testing.T) {
	var got []Event
	c := NewConsumerWith(nil, "warden.audit", func(_ context.Context, e Event) error {
		got = append(got, e)
		return nil
	}, zap.NewNop())

	first := NewEvent(EventUserRegistered, 1, "", nil)
	second := NewEvent(EventMediaUploaded, 2, "", map[string]any{"id": "7"})
	session := runClaim(t, c, encoded(t, first, 10), encoded(t, second, 11))

	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, EventMediaUploaded, got[1].Type)
	assert.Equal(t, []int64{10, 11}, session.marked)
}

func TestConsumer_RetriesThenSucceeds(t *testing.T) {
	attempts := 0
	c := NewConsumerWith(nil, "warden.audit", func(context.Context, Event) error {
		attempts++
		if attempts < 3 {
			return errors.New("sink unavailable")
		}
		return nil
	}, zap.NewNop())
	c.backoff = time.Millisecond

	session := runClaim(t, c, encoded(t, NewEvent(EventTokensRevoked, 3, "", nil), 1))
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int64{1}, session.marked)
}

func TestConsumer_SkipsPoisonMessages(t *testing.T) {
	attempts := 0
	c := NewConsumerWith(nil, "warden.audit", func(context.Context, Event) error {
		attempts++
		return errors.New("always fails")
	}, zap.NewNop())
	c.backoff = time.Millisecond

	bad := &sarama.ConsumerMessage{Value: []byte("{not json"), Offset: 4}
	session := runClaim(t, c, bad, encoded(t, NewEvent(EventMediaDeleted, 1, "", nil), 5))

	// undecodable messages never reach the handler; failing ones are retried then dropped
	assert.Equal(t, c.maxRetries+1, attempts)
	assert.Equal(t, []int64{4, 5}, session.marked)
}

func TestConsumer_SetupSignalsReadyOnce(t *testing.T) {
	c := NewConsumerWith(nil, "warden.audit", nil, zap.NewNop())
	require.NoError(t, c.Setup(nil))
	require.NoError(t, c.Setup(nil))
	select {
	case <-c.Ready():
	default:
		t.Fatal("ready channel not closed")
	}
}
