/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package groupcomm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tryfix/groupcomm/data"
	"github.com/tryfix/groupcomm/encoding"
	"github.com/tryfix/groupcomm/nameservice"
	"github.com/tryfix/groupcomm/transport"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

type state int

const (
	stateUninitialized state = iota
	stateInitialized
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateInitialized:
		return `Initialized`
	case stateClosed:
		return `Closed`
	default:
		return `Uninitialized`
	}
}

// ReduceFunc combines the values received from children. It must be
// associative for a tree reduction to be well defined; the engine does
// not enforce this. Values arrive in arrival order, not child order.
type ReduceFunc func(values []interface{}) (interface{}, error)

// OperatorTopology is this task's view of one collective operator: an
// optional parent channel, the ordered child channels and the blocking
// send/receive primitives over them. All mailbox mutation and the
// ready queue share one coordination lock; the lock is held only
// across constant-time sections.
type OperatorTopology struct {
	group    string
	name     string
	typ      OperatorType
	selfId   string
	parent   *NodeChannel
	children []*NodeChannel
	channels map[string]*NodeChannel

	mu      sync.Mutex
	ready   []*NodeChannel
	wake    chan struct{}
	closing chan struct{}
	state   state

	encoder      encoding.Encoder
	nameService  nameservice.NameService
	sender       transport.Sender
	timeout      time.Duration
	retryCount   int
	retryBackoff time.Duration
	logger       log.Logger
	metrics      struct {
		sentLatency     metrics.Observer
		receivedLatency metrics.Observer
		mailboxDepth    metrics.Gauge
		lookupRetries   metrics.Counter
	}
}

func newOperatorTopology(group string, conf *OperatorConfig, c *Config) *OperatorTopology {
	t := &OperatorTopology{
		group:        group,
		name:         conf.Name,
		typ:          conf.Type,
		selfId:       c.SelfId,
		channels:     make(map[string]*NodeChannel),
		wake:         make(chan struct{}, 1),
		closing:      make(chan struct{}),
		encoder:      conf.Encoder,
		nameService:  c.NameService,
		sender:       c.Transport,
		timeout:      c.Timeout,
		retryCount:   c.RetryCount,
		retryBackoff: c.RetryBackoff,
		logger:       c.Logger.NewLog(log.Prefixed(fmt.Sprintf(`%s.%s`, group, conf.Name))),
	}

	if conf.ParentId != `` {
		t.parent = newNodeChannel(conf.ParentId, &t.mu, t.closing)
		t.channels[conf.ParentId] = t.parent
	}

	for _, childId := range conf.ChildIds {
		child := newNodeChannel(childId, &t.mu, t.closing)
		t.children = append(t.children, child)
		t.channels[childId] = child
	}

	labels := map[string]string{`group`: group, `operator`: conf.Name}
	t.metrics.sentLatency = c.MetricsReporter.Observer(metrics.MetricConf{
		Path:        `group_comm_operator_sent_latency_microseconds`,
		Labels:      []string{`destination`},
		ConstLabels: labels,
	})
	t.metrics.receivedLatency = c.MetricsReporter.Observer(metrics.MetricConf{
		Path:        `group_comm_operator_received_latency_microseconds`,
		Labels:      []string{`source`},
		ConstLabels: labels,
	})
	t.metrics.mailboxDepth = c.MetricsReporter.Gauge(metrics.MetricConf{
		Path:        `group_comm_operator_mailbox_depth`,
		Labels:      []string{`peer`},
		ConstLabels: labels,
	})
	t.metrics.lookupRetries = c.MetricsReporter.Counter(metrics.MetricConf{
		Path:        `group_comm_operator_lookup_retries`,
		Labels:      []string{`peer`},
		ConstLabels: labels,
	})

	return t
}

func (t *OperatorTopology) Group() string {
	return t.group
}

func (t *OperatorTopology) Name() string {
	return t.name
}

func (t *OperatorTopology) Type() OperatorType {
	return t.typ
}

func (t *OperatorTopology) SelfId() string {
	return t.selfId
}

func (t *OperatorTopology) HasParent() bool {
	return t.parent != nil
}

func (t *OperatorTopology) HasChildren() bool {
	return len(t.children) > 0
}

func (t *OperatorTopology) ParentId() string {
	if t.parent == nil {
		return ``
	}

	return t.parent.PeerId()
}

func (t *OperatorTopology) ChildIds() []string {
	ids := make([]string, len(t.children))
	for i, child := range t.children {
		ids[i] = child.PeerId()
	}

	return ids
}

func (t *OperatorTopology) State() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state.String()
}

// Initialize resolves every peer through the name service, parent
// first then children in declared order. Each peer gets RetryCount
// lookup attempts with RetryBackoff between them; exhaustion fails the
// operator permanently. No primitive may be used before this returns.
func (t *OperatorTopology) Initialize(ctx context.Context) error {
	t.mu.Lock()
	if t.state == stateClosed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.state == stateInitialized {
		t.mu.Unlock()
		return ArgumentError{Reason: `operator already initialized`}
	}
	t.mu.Unlock()

	var peers []string
	if t.parent != nil {
		peers = append(peers, t.parent.PeerId())
	}
	peers = append(peers, t.ChildIds()...)

	for _, peerId := range peers {
		if err := t.lookup(ctx, peerId); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.state = stateInitialized
	t.mu.Unlock()

	t.logger.Info(fmt.Sprintf(`operator [%s] initialized with %d peers`, t.name, len(peers)))

	return nil
}

func (t *OperatorTopology) lookup(ctx context.Context, peerId string) error {
	for attempt := 1; attempt <= t.retryCount; attempt++ {
		ep, err := t.nameService.Lookup(peerId)
		if err == nil {
			t.logger.Debug(fmt.Sprintf(`peer [%s] resolved on %s`, peerId, ep))
			return nil
		}

		t.metrics.lookupRetries.Count(1, map[string]string{`peer`: peerId})
		if attempt == t.retryCount {
			break
		}

		t.logger.Debug(fmt.Sprintf(`peer [%s] not resolved, attempt %d/%d`, peerId, attempt, t.retryCount))
		select {
		case <-time.After(t.retryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		case <-t.closing:
			return ErrClosed
		}
	}

	return InitializationError{Peer: peerId, Attempts: t.retryCount}
}

// OnMessage deposits an inbound envelope into the source peer's
// mailbox and records the arrival on the ready queue. Both writes
// happen under the coordination lock so a receiver draining stale
// ready entries cannot miss a concurrent arrival; the wake tokens are
// sticky and fire after the lock is released.
func (t *OperatorTopology) OnMessage(message *data.Message) error {
	if message == nil {
		return MalformedMessageError{Reason: `nil message`}
	}

	if message.Source == `` {
		return MalformedMessageError{Reason: `missing source`}
	}

	channel, ok := t.channels[message.Source]
	if !ok {
		return UnknownPeerError{Peer: message.Source}
	}

	t.mu.Lock()
	if t.state == stateClosed {
		t.mu.Unlock()
		return ErrClosed
	}
	channel.add(message.Payloads)
	// the ready queue feeds waitForAny, which only ever waits on
	// children; the parent mailbox has a dedicated taker
	child := channel != t.parent
	if child {
		t.ready = append(t.ready, channel)
	}
	depth := channel.depth()
	t.mu.Unlock()

	channel.signal()
	if child {
		t.signalReady()
	}

	t.metrics.mailboxDepth.Count(float64(depth), map[string]string{`peer`: message.Source})

	return nil
}

func (t *OperatorTopology) signalReady() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *OperatorTopology) checkOperational() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case stateUninitialized:
		return ErrNotInitialized
	case stateClosed:
		return ErrClosed
	}

	return nil
}

func (t *OperatorTopology) send(ctx context.Context, message *data.Message) error {
	begin := time.Now()
	if err := t.sender.Send(ctx, message); err != nil {
		return err
	}

	t.metrics.sentLatency.Observe(float64(time.Since(begin).Nanoseconds()/1e3), map[string]string{
		`destination`: message.Destination,
	})

	return nil
}

// SendToParent encodes value and sends a single-payload message up the
// tree.
func (t *OperatorTopology) SendToParent(ctx context.Context, value interface{}, kind data.Kind) error {
	if err := t.checkOperational(); err != nil {
		return err
	}

	if t.parent == nil {
		return ErrNoParent
	}

	payload, err := t.encoder.Encode(value)
	if err != nil {
		return err
	}

	return t.send(ctx, data.NewMessage(t.group, t.name, t.selfId, t.parent.PeerId(), kind, [][]byte{payload}))
}

func (t *OperatorTopology) sendListToParent(ctx context.Context, values []interface{}, kind data.Kind) error {
	if err := t.checkOperational(); err != nil {
		return err
	}

	if t.parent == nil {
		return ErrNoParent
	}

	payloads, err := t.encodeAll(values)
	if err != nil {
		return err
	}

	return t.send(ctx, data.NewMessage(t.group, t.name, t.selfId, t.parent.PeerId(), kind, payloads))
}

// SendToChildren encodes value once and sends one copy per child in
// declared order. Sends are issued in order but delivery is not
// awaited.
func (t *OperatorTopology) SendToChildren(ctx context.Context, value interface{}, kind data.Kind) error {
	if err := t.checkOperational(); err != nil {
		return err
	}

	if value == nil {
		return ArgumentError{Reason: `message cannot be nil`}
	}

	payload, err := t.encoder.Encode(value)
	if err != nil {
		return err
	}

	for _, child := range t.children {
		msg := data.NewMessage(t.group, t.name, t.selfId, child.PeerId(), kind, [][]byte{payload})
		if err := t.send(ctx, msg); err != nil {
			return err
		}
	}

	return nil
}

func (t *OperatorTopology) sendListToChildren(ctx context.Context, values []interface{}, kind data.Kind) error {
	if err := t.checkOperational(); err != nil {
		return err
	}

	payloads, err := t.encodeAll(values)
	if err != nil {
		return err
	}

	for _, child := range t.children {
		msg := data.NewMessage(t.group, t.name, t.selfId, child.PeerId(), kind, payloads)
		if err := t.send(ctx, msg); err != nil {
			return err
		}
	}

	return nil
}

func (t *OperatorTopology) encodeAll(values []interface{}) ([][]byte, error) {
	payloads := make([][]byte, 0, len(values))
	for _, value := range values {
		payload, err := t.encoder.Encode(value)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, payload)
	}

	return payloads, nil
}

// ScatterToChildren partitions values into consecutive chunks of
// ceil(len/children) and sends one chunk per child in declared order.
func (t *OperatorTopology) ScatterToChildren(ctx context.Context, values []interface{}, kind data.Kind) error {
	if err := t.checkOperational(); err != nil {
		return err
	}

	if len(t.children) < 1 {
		return ErrNoChildren
	}

	return t.scatter(ctx, values, ceilDiv(len(values), len(t.children)), t.children, kind)
}

// ScatterToChildrenWithSize scatters with an explicit chunk size.
func (t *OperatorTopology) ScatterToChildrenWithSize(ctx context.Context, values []interface{}, chunkSize int, kind data.Kind) error {
	if err := t.checkOperational(); err != nil {
		return err
	}

	if len(t.children) < 1 {
		return ErrNoChildren
	}

	if chunkSize < 1 {
		return ArgumentError{Reason: fmt.Sprintf(`chunk size [%d] should be greater than zero`, chunkSize)}
	}

	return t.scatter(ctx, values, chunkSize, t.children, kind)
}

// ScatterToChildrenInOrder scatters with default chunking but an
// explicit child ordering. Order must name every child exactly once.
func (t *OperatorTopology) ScatterToChildrenInOrder(ctx context.Context, values []interface{}, order []string, kind data.Kind) error {
	if err := t.checkOperational(); err != nil {
		return err
	}

	if len(t.children) < 1 {
		return ErrNoChildren
	}

	if len(order) != len(t.children) {
		return ArgumentError{Reason: fmt.Sprintf(
			`order has %d entries for %d children`, len(order), len(t.children))}
	}

	children := make([]*NodeChannel, 0, len(order))
	for _, peerId := range order {
		channel, ok := t.channels[peerId]
		if !ok || channel == t.parent {
			return UnknownPeerError{Peer: peerId}
		}
		children = append(children, channel)
	}

	return t.scatter(ctx, values, ceilDiv(len(values), len(children)), children, kind)
}

func (t *OperatorTopology) scatter(ctx context.Context, values []interface{}, chunkSize int, children []*NodeChannel, kind data.Kind) error {
	for i, child := range children {
		start := i * chunkSize
		if start >= len(values) {
			// tail children get nothing, no empty chunk is sent
			break
		}

		end := start + chunkSize
		if end > len(values) {
			end = len(values)
		}

		payloads, err := t.encodeAll(values[start:end])
		if err != nil {
			return err
		}

		msg := data.NewMessage(t.group, t.name, t.selfId, child.PeerId(), kind, payloads)
		if err := t.send(ctx, msg); err != nil {
			return err
		}
	}

	return nil
}

// ReceiveFromParent blocks until a single-payload message arrives from
// the parent, then decodes it.
func (t *OperatorTopology) ReceiveFromParent(ctx context.Context) (interface{}, error) {
	payloads, err := t.receiveFromParent(ctx)
	if err != nil {
		return nil, err
	}

	if len(payloads) != 1 {
		return nil, ProtocolError{Reason: fmt.Sprintf(
			`expected a single payload from [%s], got %d`, t.parent.PeerId(), len(payloads))}
	}

	return t.encoder.Decode(payloads[0])
}

// ReceiveListFromParent blocks until a message arrives from the parent
// and decodes every payload it carries.
func (t *OperatorTopology) ReceiveListFromParent(ctx context.Context) ([]interface{}, error) {
	payloads, err := t.receiveFromParent(ctx)
	if err != nil {
		return nil, err
	}

	if len(payloads) < 1 {
		return nil, ProtocolError{Reason: fmt.Sprintf(
			`expected at least one payload from [%s]`, t.parent.PeerId())}
	}

	values := make([]interface{}, 0, len(payloads))
	for _, payload := range payloads {
		value, err := t.encoder.Decode(payload)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}

	return values, nil
}

func (t *OperatorTopology) receiveFromParent(ctx context.Context) ([][]byte, error) {
	if err := t.checkOperational(); err != nil {
		return nil, err
	}

	if t.parent == nil {
		return nil, ErrNoParent
	}

	begin := time.Now()
	tctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	payloads, err := t.parent.take(tctx)
	if err != nil {
		if err == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, ReceiveTimeoutError{Pending: []string{t.parent.PeerId()}}
		}
		return nil, err
	}

	t.metrics.receivedLatency.Observe(float64(time.Since(begin).Nanoseconds()/1e3), map[string]string{
		`source`: t.parent.PeerId(),
	})

	return payloads, nil
}

// ReceiveFromChildren collects exactly one value from every child and
// reduces them. Values are reduced in arrival order; a
// non-commutative reduce function therefore yields a
// non-deterministic result.
func (t *OperatorTopology) ReceiveFromChildren(ctx context.Context, reduce ReduceFunc) (interface{}, error) {
	if reduce == nil {
		return nil, ArgumentError{Reason: `reduce function cannot be nil`}
	}

	collected, err := t.collectFromChildren(ctx, true)
	if err != nil {
		return nil, err
	}

	values := make([]interface{}, 0, len(collected))
	for _, rcv := range collected {
		values = append(values, rcv.values[0])
	}

	return reduce(values)
}

type received struct {
	peerId string
	values []interface{}
}

type receivedPayloads struct {
	peerId   string
	payloads [][]byte
}

// collectPayloadsFromChildren drains one message per child, waking on
// the ready queue rather than polling each mailbox. Results are in
// arrival order, payloads still encoded.
func (t *OperatorTopology) collectPayloadsFromChildren(ctx context.Context) ([]receivedPayloads, error) {
	if err := t.checkOperational(); err != nil {
		return nil, err
	}

	if len(t.children) < 1 {
		return nil, ErrNoChildren
	}

	pending := make(map[string]*NodeChannel, len(t.children))
	for _, child := range t.children {
		pending[child.PeerId()] = child
	}

	var out []receivedPayloads
	for len(pending) > 0 {
		available, err := t.waitForAny(ctx, pending)
		if err != nil {
			return nil, err
		}

		for _, channel := range available {
			t.mu.Lock()
			if !channel.hasMessage() {
				t.mu.Unlock()
				continue
			}
			payloads := channel.pop()
			t.mu.Unlock()

			out = append(out, receivedPayloads{peerId: channel.PeerId(), payloads: payloads})
			delete(pending, channel.PeerId())
		}
	}

	return out, nil
}

// collectFromChildren decodes one message per child. scalar demands
// exactly one payload per message; gather-style callers accept lists.
func (t *OperatorTopology) collectFromChildren(ctx context.Context, scalar bool) ([]received, error) {
	raw, err := t.collectPayloadsFromChildren(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]received, 0, len(raw))
	for _, rcv := range raw {
		if scalar && len(rcv.payloads) != 1 {
			return nil, ProtocolError{Reason: fmt.Sprintf(
				`expected a single payload from [%s], got %d`, rcv.peerId, len(rcv.payloads))}
		}

		values := make([]interface{}, 0, len(rcv.payloads))
		for _, payload := range rcv.payloads {
			value, err := t.encoder.Decode(payload)
			if err != nil {
				return nil, err
			}
			values = append(values, value)
		}

		out = append(out, received{peerId: rcv.peerId, values: values})
	}

	return out, nil
}

// taggedValue pairs a gathered element with the task that contributed
// it. The explicit-order all-gather carries the pair on the wire as
// two consecutive payloads: raw task id, then the encoded value.
type taggedValue struct {
	taskId string
	value  interface{}
}

func (t *OperatorTopology) sendTaggedListToParent(ctx context.Context, values []taggedValue, kind data.Kind) error {
	if err := t.checkOperational(); err != nil {
		return err
	}

	if t.parent == nil {
		return ErrNoParent
	}

	payloads := make([][]byte, 0, 2*len(values))
	for _, tv := range values {
		byt, err := t.encoder.Encode(tv.value)
		if err != nil {
			return err
		}
		payloads = append(payloads, []byte(tv.taskId), byt)
	}

	return t.send(ctx, data.NewMessage(t.group, t.name, t.selfId, t.parent.PeerId(), kind, payloads))
}

// collectTaggedFromChildren takes one id-tagged message per child and
// flattens the decoded pairs in declared child order.
func (t *OperatorTopology) collectTaggedFromChildren(ctx context.Context) ([]taggedValue, error) {
	raw, err := t.collectPayloadsFromChildren(ctx)
	if err != nil {
		return nil, err
	}

	byPeer := make(map[string][]taggedValue, len(raw))
	for _, rcv := range raw {
		if len(rcv.payloads) < 2 || len(rcv.payloads)%2 != 0 {
			return nil, ProtocolError{Reason: fmt.Sprintf(
				`expected id-value payload pairs from [%s], got %d payloads`, rcv.peerId, len(rcv.payloads))}
		}

		tagged := make([]taggedValue, 0, len(rcv.payloads)/2)
		for i := 0; i < len(rcv.payloads); i += 2 {
			value, err := t.encoder.Decode(rcv.payloads[i+1])
			if err != nil {
				return nil, err
			}
			tagged = append(tagged, taggedValue{taskId: string(rcv.payloads[i]), value: value})
		}

		byPeer[rcv.peerId] = tagged
	}

	var out []taggedValue
	for _, childId := range t.ChildIds() {
		out = append(out, byPeer[childId]...)
	}

	return out, nil
}

// waitForAny returns the pending channels that currently hold a
// message, blocking until at least one does. The stale ready entries
// are dropped under the lock before blocking; OnMessage appends queue
// and ready entries under the same lock, so an arrival racing the
// drain still leaves a sticky wake token and the next scan sees its
// data. A wakeup for a peer outside pending re-enters the scan and
// blocks again without consuming anything.
func (t *OperatorTopology) waitForAny(ctx context.Context, pending map[string]*NodeChannel) ([]*NodeChannel, error) {
	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	for {
		t.mu.Lock()
		var available []*NodeChannel
		for _, child := range t.children {
			if _, ok := pending[child.PeerId()]; ok && child.hasMessage() {
				available = append(available, child)
			}
		}
		if len(available) > 0 {
			t.mu.Unlock()
			return available, nil
		}

		t.ready = t.ready[:0]
		t.mu.Unlock()

		select {
		case <-t.wake:
		case <-timer.C:
			return nil, ReceiveTimeoutError{Pending: pendingIds(pending)}
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.closing:
			return nil, ErrClosed
		}
	}
}

func pendingIds(pending map[string]*NodeChannel) []string {
	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}

	return ids
}

func ceilDiv(n, k int) int {
	return (n + k - 1) / k
}

func (t *OperatorTopology) mailboxDepths() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	depths := make(map[string]int, len(t.channels))
	for peerId, channel := range t.channels {
		depths[peerId] = channel.depth()
	}

	return depths
}

// Close tears the operator down and wakes every blocked receiver with
// ErrClosed. Pending mailbox entries are discarded, not drained.
func (t *OperatorTopology) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == stateClosed {
		return nil
	}

	t.state = stateClosed
	close(t.closing)
	t.logger.Info(fmt.Sprintf(`operator [%s] closed`, t.name))

	return nil
}
