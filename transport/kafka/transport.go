/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	saramaMetrics "github.com/rcrowley/go-metrics"
	"github.com/tryfix/errors"
	"github.com/tryfix/groupcomm/data"
	"github.com/tryfix/groupcomm/transport"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
	traceable_context "github.com/tryfix/traceable-context"
)

func init() {
	saramaMetrics.UseNilMetrics = true
}

// Transport carries framed messages over Kafka: every task owns a
// single-partition inbound topic, Send produces the JSON envelope to
// the destination's topic and Subscribe tails the task's own topic
// into the router.
type Transport struct {
	conf     *Config
	producer sarama.SyncProducer
	consumer sarama.Consumer

	mu      sync.Mutex
	tails   []sarama.PartitionConsumer
	closing chan struct{}
	closed  bool

	logger  log.Logger
	metrics struct {
		sentLatency metrics.Observer
	}
}

func NewTransport(conf *Config) (*Transport, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}

	logger := conf.Logger.NewLog(log.Prefixed(`kafka-transport`))

	logger.Info(fmt.Sprintf(`transport [%s] initiating...`, conf.Id))
	producer, err := sarama.NewSyncProducer(conf.BootstrapServers, conf.Config)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`[%s] producer init failed`, conf.Id))
	}

	consumer, err := sarama.NewConsumer(conf.BootstrapServers, conf.Config)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`[%s] consumer init failed`, conf.Id))
	}

	t := &Transport{
		conf:     conf,
		producer: producer,
		consumer: consumer,
		closing:  make(chan struct{}),
		logger:   logger,
	}

	t.metrics.sentLatency = conf.MetricsReporter.Observer(metrics.MetricConf{
		Path:        `group_comm_kafka_sent_latency_microseconds`,
		Labels:      []string{`destination`},
		ConstLabels: map[string]string{`transport_id`: conf.Id},
	})

	defer logger.Info(fmt.Sprintf(`transport [%s] initiated`, conf.Id))

	return t, nil
}

func (t *Transport) topic(taskId string) string {
	return fmt.Sprintf(t.conf.TopicFormat, taskId)
}

func (t *Transport) Send(ctx context.Context, message *data.Message) error {
	if message == nil {
		return errors.New(`message cannot be nil`)
	}

	byt, err := json.Marshal(message)
	if err != nil {
		return errors.WithPrevious(err, `cannot encode envelope`)
	}

	begin := time.Now()
	_, _, err = t.producer.SendMessage(&sarama.ProducerMessage{
		Topic: t.topic(message.Destination),
		Key:   sarama.StringEncoder(message.Source),
		Value: sarama.ByteEncoder(byt),
	})
	if err != nil {
		return errors.WithPrevious(err, fmt.Sprintf(`cannot send to [%s]`, message.Destination))
	}

	t.metrics.sentLatency.Observe(float64(time.Since(begin).Nanoseconds()/1e3), map[string]string{
		`destination`: message.Destination,
	})

	return nil
}

func (t *Transport) Subscribe(taskId string, deliverer transport.Deliverer) error {
	topic := t.topic(taskId)
	tail, err := t.consumer.ConsumePartition(topic, 0, sarama.OffsetNewest)
	if err != nil {
		return errors.WithPrevious(err, fmt.Sprintf(`cannot initiate partition consumer for %s[0]`, topic))
	}

	t.mu.Lock()
	t.tails = append(t.tails, tail)
	t.mu.Unlock()

	go t.run(taskId, tail, deliverer)

	t.logger.Info(fmt.Sprintf(`task [%s] subscribed on topic [%s]`, taskId, topic))

	return nil
}

func (t *Transport) run(taskId string, tail sarama.PartitionConsumer, deliverer transport.Deliverer) {
	for {
		select {
		case record, ok := <-tail.Messages():
			if !ok {
				return
			}

			message := new(data.Message)
			if err := json.Unmarshal(record.Value, message); err != nil {
				t.logger.Error(fmt.Sprintf(`cannot decode envelope at %s[%d]@%d : %+v`,
					record.Topic, record.Partition, record.Offset, err))
				continue
			}

			ctx := traceable_context.WithUUID(message.UUID)
			if err := deliverer.Deliver(ctx, message); err != nil {
				t.logger.ErrorContext(ctx, fmt.Sprintf(`delivery to task [%s] failed : %+v`, taskId, err))
			}

		case err := <-tail.Errors():
			t.logger.Error(fmt.Sprintf(`consume failed for task [%s] : %+v`, taskId, err))

		case <-t.closing:
			return
		}
	}
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	close(t.closing)

	for _, tail := range t.tails {
		if err := tail.Close(); err != nil {
			t.logger.Error(fmt.Sprintf(`partition consumer close failed : %+v`, err))
		}
	}

	if err := t.consumer.Close(); err != nil {
		t.logger.Error(fmt.Sprintf(`consumer close failed : %+v`, err))
	}

	defer t.logger.Info(fmt.Sprintf(`transport [%s] closed`, t.conf.Id))

	return t.producer.Close()
}
