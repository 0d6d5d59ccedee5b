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

	"github.com/tryfix/log"
)

// CommunicationGroupClient aggregates the operators of one named
// group: it builds their topologies, initializes them and hands out
// typed operator facades.
type CommunicationGroupClient struct {
	name       string
	topologies map[string]*OperatorTopology
	reducers   map[string]ReduceFunc
	order      []string
	logger     log.Logger
}

func newCommunicationGroupClient(conf *GroupConfig, c *Config, router *Router) (*CommunicationGroupClient, error) {
	g := &CommunicationGroupClient{
		name:       conf.Name,
		topologies: make(map[string]*OperatorTopology),
		reducers:   make(map[string]ReduceFunc),
		logger:     c.Logger.NewLog(log.Prefixed(fmt.Sprintf(`group.%s`, conf.Name))),
	}

	for _, opConf := range conf.Operators {
		topology := newOperatorTopology(conf.Name, opConf, c)
		if err := router.register(topology); err != nil {
			return nil, err
		}

		g.topologies[opConf.Name] = topology
		g.reducers[opConf.Name] = opConf.Reducer
		g.order = append(g.order, opConf.Name)
	}

	return g, nil
}

func (g *CommunicationGroupClient) Name() string {
	return g.name
}

func (g *CommunicationGroupClient) Initialize(ctx context.Context) error {
	for _, name := range g.order {
		if err := g.topologies[name].Initialize(ctx); err != nil {
			return err
		}
	}

	g.logger.Info(fmt.Sprintf(`group [%s] initialized with %d operators`, g.name, len(g.order)))

	return nil
}

func (g *CommunicationGroupClient) Operator(name string) (*OperatorTopology, error) {
	topology, ok := g.topologies[name]
	if !ok {
		return nil, UnknownOperatorError{Group: g.name, Operator: name}
	}

	return topology, nil
}

func (g *CommunicationGroupClient) operatorOfType(name string, typ OperatorType) (*OperatorTopology, error) {
	topology, err := g.Operator(name)
	if err != nil {
		return nil, err
	}

	if topology.Type() != typ {
		return nil, ArgumentError{Reason: fmt.Sprintf(
			`operator [%s] is a %s, not a %s`, name, topology.Type(), typ)}
	}

	return topology, nil
}

func (g *CommunicationGroupClient) Broadcast(name string) (*Broadcast, error) {
	topology, err := g.operatorOfType(name, TypeBroadcast)
	if err != nil {
		return nil, err
	}

	return &Broadcast{topology: topology}, nil
}

func (g *CommunicationGroupClient) Reduce(name string) (*Reduce, error) {
	topology, err := g.operatorOfType(name, TypeReduce)
	if err != nil {
		return nil, err
	}

	return &Reduce{topology: topology, reduce: g.reducers[name]}, nil
}

func (g *CommunicationGroupClient) Scatter(name string) (*Scatter, error) {
	topology, err := g.operatorOfType(name, TypeScatter)
	if err != nil {
		return nil, err
	}

	return &Scatter{topology: topology}, nil
}

func (g *CommunicationGroupClient) Gather(name string) (*Gather, error) {
	topology, err := g.operatorOfType(name, TypeGather)
	if err != nil {
		return nil, err
	}

	return &Gather{topology: topology}, nil
}

func (g *CommunicationGroupClient) AllGather(name string) (*AllGather, error) {
	topology, err := g.operatorOfType(name, TypeAllGather)
	if err != nil {
		return nil, err
	}

	return &AllGather{topology: topology}, nil
}

func (g *CommunicationGroupClient) close() {
	for _, name := range g.order {
		if err := g.topologies[name].Close(); err != nil {
			g.logger.Error(fmt.Sprintf(`operator [%s] close failed: %+v`, name, err))
		}
	}
}
