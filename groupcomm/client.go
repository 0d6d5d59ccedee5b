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

	"github.com/tryfix/errors"
	"github.com/tryfix/log"
)

// GroupCommClient is the task-wide entry point. It registers the task
// with the name service so peers can resolve it, binds the transport
// to the message router and owns one CommunicationGroupClient per
// configured group.
type GroupCommClient struct {
	conf   *Config
	router *Router
	groups map[string]*CommunicationGroupClient
	order  []string
	logger log.Logger
}

func NewGroupCommClient(conf *Config) (*GroupCommClient, error) {
	conf.validate()

	c := &GroupCommClient{
		conf:   conf,
		router: newRouter(conf),
		groups: make(map[string]*CommunicationGroupClient),
		logger: conf.Logger,
	}

	if err := conf.NameService.Register(conf.SelfId, conf.Endpoint); err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`task [%s] registration failed`, conf.SelfId))
	}

	for _, groupConf := range conf.Groups {
		group, err := newCommunicationGroupClient(groupConf, conf, c.router)
		if err != nil {
			return nil, err
		}

		c.groups[groupConf.Name] = group
		c.order = append(c.order, groupConf.Name)
	}

	if err := conf.Transport.Subscribe(conf.SelfId, c.router); err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`task [%s] transport subscription failed`, conf.SelfId))
	}

	c.logger.Info(fmt.Sprintf(`task [%s] joined %d groups`, conf.SelfId, len(c.order)))

	return c, nil
}

func (c *GroupCommClient) SelfId() string {
	return c.conf.SelfId
}

// Initialize initializes every group, blocking until all peers of all
// operators are resolvable.
func (c *GroupCommClient) Initialize(ctx context.Context) error {
	for _, name := range c.order {
		if err := c.groups[name].Initialize(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (c *GroupCommClient) Group(name string) (*CommunicationGroupClient, error) {
	group, ok := c.groups[name]
	if !ok {
		return nil, ArgumentError{Reason: fmt.Sprintf(`task is not a member of group [%s]`, name)}
	}

	return group, nil
}

// Close tears the client down: operators wake with ErrClosed, the
// task leaves the name service and the transport is shut.
func (c *GroupCommClient) Close() error {
	for _, name := range c.order {
		c.groups[name].close()
	}

	var first error
	if err := c.conf.NameService.Unregister(c.conf.SelfId); err != nil {
		c.logger.Error(fmt.Sprintf(`task [%s] unregistration failed: %+v`, c.conf.SelfId, err))
		first = err
	}

	if err := c.conf.Transport.Close(); err != nil {
		c.logger.Error(fmt.Sprintf(`transport close failed: %+v`, err))
		if first == nil {
			first = err
		}
	}

	c.logger.Info(fmt.Sprintf(`task [%s] closed`, c.conf.SelfId))

	return first
}
