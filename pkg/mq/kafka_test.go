package mq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKafkaProducer_Publish(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	sp := mocks.NewSyncProducer(t, cfg)

	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var e Event
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		if e.Type != EventTokenReuseDetected || e.UserID != 9 {
			return errors.New("unexpected event payload")
		}
		return nil
	})

	p := NewKafkaProducerWith(sp, "warden.audit", zap.NewNop())
	event := NewEvent(EventTokenReuseDetected, 9, "refresh_token", map[string]any{"ip": "10.0.0.1"})
	require.NotEmpty(t, event.ID)
	require.NoError(t, p.Publish(context.Background(), event))
	require.NoError(t, p.Close())
}

func TestKafkaProducer_PublishFailure(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	sp := mocks.NewSyncProducer(t, cfg)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewKafkaProducerWith(sp, "warden.audit", zap.NewNop())
	err := p.Publish(context.Background(), NewEvent(EventMediaUploaded, 1, "", nil))
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestKafkaProducer_CanceledContext(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	sp := mocks.NewSyncProducer(t, cfg)
	p := NewKafkaProducerWith(sp, "warden.audit", zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, NewEvent(EventMediaDeleted, 1, "", nil)), context.Canceled)
	require.NoError(t, p.Close())
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), NewEvent(EventUserRegistered, 1, "", nil)))
	assert.NoError(t, p.Close())
}
