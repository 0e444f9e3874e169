package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"github.com/petsync/internal/config"
	"github.com/petsync/internal/domain"
)

// KafkaSource consumes authority events published on a Kafka topic.
// Each message value is a single `{type, ...payload}` event frame.
type KafkaSource struct {
	config        *config.KafkaConfig
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	closeOnce     sync.Once
}

// NewKafkaSource joins the configured consumer group
func NewKafkaSource(cfg *config.KafkaConfig, logger *slog.Logger) (*KafkaSource, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}
	return NewKafkaSourceWithGroup(cfg, consumerGroup, logger), nil
}

// NewKafkaSourceWithGroup wraps an existing consumer group
func NewKafkaSourceWithGroup(cfg *config.KafkaConfig, group sarama.ConsumerGroup, logger *slog.Logger) *KafkaSource {
	return &KafkaSource{config: cfg, logger: logger, consumerGroup: group}
}

// Run consumes until ctx is done, then closes the consumer group
func (k *KafkaSource) Run(ctx context.Context, handle func(domain.Event)) error {
	k.logger.Info("starting Kafka feed",
		"brokers", k.config.Brokers,
		"topic", k.config.Topic,
		"group_id", k.config.GroupID,
	)
	defer k.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-k.consumerGroup.Errors():
				if !ok {
					return
				}
				k.logger.Error("consumer group error", "error", err)
			}
		}
	}()
	defer wg.Wait()

	handler := &eventGroupHandler{handle: handle, logger: k.logger}
	for {
		if err := k.consumerGroup.Consume(ctx, []string{k.config.Topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			k.logger.Error("error from consumer", "error", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the consumer group
func (k *KafkaSource) Close() error {
	var err error
	k.closeOnce.Do(func() {
		k.logger.Info("stopping Kafka feed")
		err = k.consumerGroup.Close()
	})
	return err
}

// eventGroupHandler implements sarama.ConsumerGroupHandler
type eventGroupHandler struct {
	handle func(domain.Event)
	logger *slog.Logger
}

func (h *eventGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka feed ready")
	return nil
}

func (h *eventGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim decodes and dispatches every message of a partition
func (h *eventGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.dispatch(message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *eventGroupHandler) dispatch(message *sarama.ConsumerMessage) {
	ev, err := domain.DecodeEvent(message.Value)
	if err != nil {
		h.logger.Warn("dropping Kafka event",
			"error", err,
			"partition", message.Partition,
			"offset", message.Offset,
		)
		return
	}
	h.handle(ev)
}
