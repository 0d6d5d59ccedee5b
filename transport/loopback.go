package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tryfix/errors"
	"github.com/tryfix/groupcomm/data"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

// Loopback carries messages between tasks hosted in the same process.
// Delivery happens on the sender's goroutine; the receiving router only
// appends to a mailbox, so Send never blocks on the receiver.
type Loopback struct {
	mu         sync.RWMutex
	deliverers map[string]Deliverer
	closed     bool
	logger     log.Logger
	metrics    struct {
		sentLatency metrics.Observer
	}
}

type LoopbackConfig struct {
	Logger          log.Logger
	MetricsReporter metrics.Reporter
}

func NewLoopbackConfig() *LoopbackConfig {
	conf := &LoopbackConfig{}
	conf.Logger = log.NewNoopLogger()
	conf.MetricsReporter = metrics.NoopReporter()

	return conf
}

func NewLoopback(conf *LoopbackConfig) *Loopback {
	t := &Loopback{
		deliverers: make(map[string]Deliverer),
		logger:     conf.Logger.NewLog(log.Prefixed(`loopback`)),
	}

	t.metrics.sentLatency = conf.MetricsReporter.Observer(metrics.MetricConf{
		Path:   `group_comm_loopback_sent_latency_microseconds`,
		Labels: []string{`destination`},
	})

	return t
}

func (t *Loopback) Subscribe(taskId string, deliverer Deliverer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errors.New(`transport closed`)
	}

	if _, ok := t.deliverers[taskId]; ok {
		return errors.Errorf(`task [%s] already subscribed`, taskId)
	}

	t.deliverers[taskId] = deliverer
	t.logger.Info(fmt.Sprintf(`task [%s] subscribed`, taskId))

	return nil
}

func (t *Loopback) Send(ctx context.Context, message *data.Message) error {
	if message == nil {
		return errors.New(`message cannot be nil`)
	}

	t.mu.RLock()
	deliverer, ok := t.deliverers[message.Destination]
	closed := t.closed
	t.mu.RUnlock()

	if closed {
		return errors.New(`transport closed`)
	}

	if !ok {
		return errors.Errorf(`destination [%s] cannot be resolved`, message.Destination)
	}

	begin := time.Now()
	if err := deliverer.Deliver(ctx, message); err != nil {
		return errors.WithPrevious(err, fmt.Sprintf(`delivery to [%s] failed`, message.Destination))
	}

	t.metrics.sentLatency.Observe(float64(time.Since(begin).Nanoseconds()/1e3), map[string]string{
		`destination`: message.Destination,
	})

	return nil
}

func (t *Loopback) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	t.deliverers = make(map[string]Deliverer)

	return nil
}
