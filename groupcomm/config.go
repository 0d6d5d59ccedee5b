/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package groupcomm

import (
	"time"

	"github.com/tryfix/groupcomm/encoding"
	"github.com/tryfix/groupcomm/nameservice"
	"github.com/tryfix/groupcomm/transport"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

type OperatorType int

const (
	TypeBroadcast OperatorType = iota
	TypeReduce
	TypeScatter
	TypeGather
	TypeAllGather
)

func (ot OperatorType) String() string {
	switch ot {
	case TypeReduce:
		return `Reduce`
	case TypeScatter:
		return `Scatter`
	case TypeGather:
		return `Gather`
	case TypeAllGather:
		return `AllGather`
	default:
		return `Broadcast`
	}
}

// OperatorConfig is the driver-provided per-operator descriptor: this
// task's view of one operator tree. ParentId is empty iff the task is
// the topology root; ChildIds preserves the driver's child order,
// which is authoritative for scatter and gather.
type OperatorConfig struct {
	Name     string
	Type     OperatorType
	ParentId string
	RootId   string
	ChildIds []string
	Encoder  encoding.Encoder
	Reducer  ReduceFunc
}

type GroupConfig struct {
	Name      string
	Operators []*OperatorConfig
}

type Config struct {
	SelfId          string
	DriverId        string
	Endpoint        nameservice.Endpoint
	Groups          []*GroupConfig
	NameService     nameservice.NameService
	Transport       transport.Transport
	Timeout         time.Duration
	RetryCount      int
	RetryBackoff    time.Duration
	Logger          log.Logger
	MetricsReporter metrics.Reporter
}

func NewConfig() *Config {
	config := &Config{}
	config.Timeout = 50 * time.Second
	config.RetryCount = 10
	config.RetryBackoff = 500 * time.Millisecond
	config.Logger = log.NewNoopLogger()
	config.MetricsReporter = metrics.NoopReporter()

	return config
}

func (c *Config) validate() {

	c.Logger = c.Logger.NewLog(log.Prefixed(`group-comm`))

	if c.SelfId == `` {
		c.Logger.Fatal(`[SelfId] cannot be empty`)
	}

	if c.NameService == nil {
		c.Logger.Fatal(`[NameService] cannot be empty`)
	}

	if c.Transport == nil {
		c.Logger.Fatal(`[Transport] cannot be empty`)
	}

	if c.Timeout < 1 {
		c.Logger.Fatal(`[Timeout] should be greater than zero`)
	}

	if c.RetryCount < 1 {
		c.Logger.Fatal(`[RetryCount] should be greater than zero`)
	}

	if c.RetryBackoff < 1 {
		c.Logger.Fatal(`[RetryBackoff] should be greater than zero`)
	}

	groups := make(map[string]bool)
	for _, group := range c.Groups {
		if group.Name == `` {
			c.Logger.Fatal(`group [Name] cannot be empty`)
		}

		if groups[group.Name] {
			c.Logger.Fatal(`group [` + group.Name + `] is duplicated`)
		}
		groups[group.Name] = true

		operators := make(map[string]bool)
		for _, operator := range group.Operators {
			if operator.Name == `` {
				c.Logger.Fatal(`operator [Name] cannot be empty in group [` + group.Name + `]`)
			}

			if operators[operator.Name] {
				c.Logger.Fatal(`operator [` + operator.Name + `] is duplicated in group [` + group.Name + `]`)
			}
			operators[operator.Name] = true

			if operator.Encoder == nil {
				c.Logger.Fatal(`operator [` + operator.Name + `] needs an [Encoder]`)
			}

			if operator.Type == TypeReduce && operator.Reducer == nil {
				c.Logger.Fatal(`operator [` + operator.Name + `] needs a [Reducer]`)
			}

			if operator.ParentId == `` && operator.RootId != `` && operator.RootId != c.SelfId {
				c.Logger.Fatal(`operator [` + operator.Name + `] has no [ParentId] but [RootId] is another task`)
			}
		}
	}
}
