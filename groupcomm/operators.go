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

	"github.com/tryfix/groupcomm/data"
)

// Broadcast fans one value out from the root to every task of the
// tree. Interior receivers forward the value to their own children
// before returning it.
type Broadcast struct {
	topology *OperatorTopology
}

func (b *Broadcast) Send(ctx context.Context, value interface{}) error {
	if b.topology.HasParent() {
		return ArgumentError{Reason: `broadcast sender must be the topology root`}
	}

	return b.topology.SendToChildren(ctx, value, data.Data)
}

func (b *Broadcast) Receive(ctx context.Context) (interface{}, error) {
	value, err := b.topology.ReceiveFromParent(ctx)
	if err != nil {
		return nil, err
	}

	if b.topology.HasChildren() {
		if err := b.topology.SendToChildren(ctx, value, data.Data); err != nil {
			return nil, err
		}
	}

	return value, nil
}

// Reduce folds one value per task up the tree. Interior senders reduce
// their subtree's values together with their own before forwarding, so
// the root reduces at most fan-in values regardless of tree depth.
type Reduce struct {
	topology *OperatorTopology
	reduce   ReduceFunc
}

func (r *Reduce) Send(ctx context.Context, value interface{}) error {
	if !r.topology.HasParent() {
		return ArgumentError{Reason: `reduce sender cannot be the topology root`}
	}

	if r.topology.HasChildren() {
		subtree, err := r.topology.ReceiveFromChildren(ctx, r.reduce)
		if err != nil {
			return err
		}

		combined, err := r.reduce([]interface{}{subtree, value})
		if err != nil {
			return err
		}

		return r.topology.SendToParent(ctx, combined, data.Data)
	}

	return r.topology.SendToParent(ctx, value, data.Data)
}

// Reduce collects from the root's children and applies the reduce
// function in arrival order. The root does not contribute a value.
func (r *Reduce) Reduce(ctx context.Context) (interface{}, error) {
	if r.topology.HasParent() {
		return nil, ArgumentError{Reason: `reduce receiver must be the topology root`}
	}

	return r.topology.ReceiveFromChildren(ctx, r.reduce)
}

// Scatter partitions a value list at the root and hands each child a
// consecutive chunk.
type Scatter struct {
	topology *OperatorTopology
}

func (s *Scatter) Send(ctx context.Context, values []interface{}) error {
	return s.topology.ScatterToChildren(ctx, values, data.Data)
}

func (s *Scatter) SendWithSize(ctx context.Context, values []interface{}, chunkSize int) error {
	return s.topology.ScatterToChildrenWithSize(ctx, values, chunkSize, data.Data)
}

func (s *Scatter) SendInOrder(ctx context.Context, values []interface{}, order []string) error {
	return s.topology.ScatterToChildrenInOrder(ctx, values, order, data.Data)
}

func (s *Scatter) Receive(ctx context.Context) ([]interface{}, error) {
	return s.topology.ReceiveListFromParent(ctx)
}

// Gather is the inverse of scatter: every non-root task contributes
// one value and the root collects them. The result is ordered by the
// tree, depth first with each subtree's own value leading, not by
// arrival.
type Gather struct {
	topology *OperatorTopology
}

func (g *Gather) Send(ctx context.Context, value interface{}) error {
	if !g.topology.HasParent() {
		return ArgumentError{Reason: `gather sender cannot be the topology root`}
	}

	subtree, err := gatherSubtree(ctx, g.topology, value)
	if err != nil {
		return err
	}

	return g.topology.sendListToParent(ctx, subtree, data.Data)
}

func (g *Gather) Gather(ctx context.Context) ([]interface{}, error) {
	if g.topology.HasParent() {
		return nil, ArgumentError{Reason: `gather receiver must be the topology root`}
	}

	return collectInChildOrder(ctx, g.topology)
}

// AllGather gives every task the full gathered list: values travel up
// the tree, the root assembles them and the list is broadcast back
// down. All tasks observe the same order.
type AllGather struct {
	topology *OperatorTopology
}

func (a *AllGather) Apply(ctx context.Context, value interface{}) ([]interface{}, error) {
	t := a.topology

	subtree, err := gatherSubtree(ctx, t, value)
	if err != nil {
		return nil, err
	}

	if !t.HasParent() {
		if t.HasChildren() {
			if err := t.sendListToChildren(ctx, subtree, data.Data); err != nil {
				return nil, err
			}
		}

		return subtree, nil
	}

	if err := t.sendListToParent(ctx, subtree, data.Data); err != nil {
		return nil, err
	}

	full, err := t.ReceiveListFromParent(ctx)
	if err != nil {
		return nil, err
	}

	if t.HasChildren() {
		if err := t.sendListToChildren(ctx, full, data.Data); err != nil {
			return nil, err
		}
	}

	return full, nil
}

// ApplyInOrder is Apply with a caller-chosen result order: values
// travel up the tree tagged with their origin task id and the root
// reorders the assembled list by the given ids before the broadcast
// down. Every task must call this variant for the same round; only
// the root's order is authoritative. Order must name every
// participating task exactly once.
func (a *AllGather) ApplyInOrder(ctx context.Context, value interface{}, order []string) ([]interface{}, error) {
	t := a.topology

	subtree := []taggedValue{{taskId: t.SelfId(), value: value}}
	if t.HasChildren() {
		children, err := t.collectTaggedFromChildren(ctx)
		if err != nil {
			return nil, err
		}
		subtree = append(subtree, children...)
	}

	if t.HasParent() {
		if err := t.sendTaggedListToParent(ctx, subtree, data.Data); err != nil {
			return nil, err
		}

		full, err := t.ReceiveListFromParent(ctx)
		if err != nil {
			return nil, err
		}

		if t.HasChildren() {
			if err := t.sendListToChildren(ctx, full, data.Data); err != nil {
				return nil, err
			}
		}

		return full, nil
	}

	ordered, err := reorderTagged(subtree, order)
	if err != nil {
		return nil, err
	}

	if t.HasChildren() {
		if err := t.sendListToChildren(ctx, ordered, data.Data); err != nil {
			return nil, err
		}
	}

	return ordered, nil
}

func reorderTagged(tagged []taggedValue, order []string) ([]interface{}, error) {
	if len(order) != len(tagged) {
		return nil, ArgumentError{Reason: fmt.Sprintf(
			`order has %d entries for %d gathered values`, len(order), len(tagged))}
	}

	byId := make(map[string]interface{}, len(tagged))
	for _, tv := range tagged {
		byId[tv.taskId] = tv.value
	}

	out := make([]interface{}, 0, len(order))
	for _, taskId := range order {
		value, ok := byId[taskId]
		if !ok {
			return nil, UnknownPeerError{Peer: taskId}
		}
		out = append(out, value)
		// a duplicate id reads as unknown on its second use
		delete(byId, taskId)
	}

	return out, nil
}

// gatherSubtree assembles this task's subtree contribution: its own
// value followed by each child's subtree list in declared child order.
func gatherSubtree(ctx context.Context, t *OperatorTopology, value interface{}) ([]interface{}, error) {
	subtree := []interface{}{value}

	if t.HasChildren() {
		children, err := collectInChildOrder(ctx, t)
		if err != nil {
			return nil, err
		}
		subtree = append(subtree, children...)
	}

	return subtree, nil
}

// collectInChildOrder takes one message per child and flattens the
// decoded lists in declared child order regardless of arrival order.
func collectInChildOrder(ctx context.Context, t *OperatorTopology) ([]interface{}, error) {
	rcv, err := t.collectFromChildren(ctx, false)
	if err != nil {
		return nil, err
	}

	byPeer := make(map[string][]interface{}, len(rcv))
	for _, r := range rcv {
		byPeer[r.peerId] = r.values
	}

	var out []interface{}
	for _, childId := range t.ChildIds() {
		out = append(out, byPeer[childId]...)
	}

	return out, nil
}
