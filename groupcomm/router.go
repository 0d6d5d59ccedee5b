package groupcomm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tryfix/groupcomm/data"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
	traceable_context "github.com/tryfix/traceable-context"
)

type routeKey struct {
	group    string
	operator string
}

// Router dispatches inbound envelopes to the owning operator topology
// by (group, operator). It implements transport.Deliverer; the
// transport binding calls Deliver once per decoded envelope.
type Router struct {
	mu      sync.RWMutex
	routes  map[routeKey]*OperatorTopology
	logger  log.Logger
	metrics struct {
		delivered metrics.Counter
		dropped   metrics.Counter
	}
}

func newRouter(c *Config) *Router {
	r := &Router{
		routes: make(map[routeKey]*OperatorTopology),
		logger: c.Logger.NewLog(log.Prefixed(`router`)),
	}

	labels := []string{`group`, `operator`}
	r.metrics.delivered = c.MetricsReporter.Counter(metrics.MetricConf{
		Path:   `group_comm_router_delivered`,
		Labels: labels,
	})
	r.metrics.dropped = c.MetricsReporter.Counter(metrics.MetricConf{
		Path:   `group_comm_router_dropped`,
		Labels: labels,
	})

	return r
}

func (r *Router) register(topology *OperatorTopology) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := routeKey{group: topology.Group(), operator: topology.Name()}
	if _, ok := r.routes[key]; ok {
		return ArgumentError{Reason: fmt.Sprintf(
			`operator [%s] already registered in group [%s]`, key.operator, key.group)}
	}

	r.routes[key] = topology

	return nil
}

// Deliver routes one envelope. Control messages addressed to an
// operator that does not exist yet are dropped silently; the driver
// sends those ahead of user code registering the operator.
func (r *Router) Deliver(ctx context.Context, message *data.Message) error {
	if message == nil {
		return MalformedMessageError{Reason: `nil message`}
	}

	ctx = traceable_context.WithUUID(message.UUID)

	r.mu.RLock()
	topology, ok := r.routes[routeKey{group: message.Group, operator: message.Operator}]
	r.mu.RUnlock()

	labels := map[string]string{`group`: message.Group, `operator`: message.Operator}
	if !ok {
		r.metrics.dropped.Count(1, labels)
		if message.Kind == data.Control {
			r.logger.Debug(fmt.Sprintf(`control message for unknown operator [%s] dropped`, message))
			return nil
		}

		return UnknownOperatorError{Group: message.Group, Operator: message.Operator}
	}

	if err := topology.OnMessage(message); err != nil {
		r.metrics.dropped.Count(1, labels)
		r.logger.ErrorContext(ctx, fmt.Sprintf(`dispatch of [%s] failed : %+v`, message, err))
		return err
	}

	r.metrics.delivered.Count(1, labels)

	return nil
}
