/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package kafka

import (
	"github.com/Shopify/sarama"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

type Config struct {
	Id               string
	BootstrapServers []string
	// TopicFormat names each task's inbound topic; the single verb
	// is substituted with the task id. Topics are provisioned by the
	// driver, single partition each.
	TopicFormat string
	*sarama.Config
	Logger          log.Logger
	MetricsReporter metrics.Reporter
}

func NewConfig() *Config {
	conf := &Config{}
	conf.Config = sarama.NewConfig()
	conf.Version = sarama.V2_4_0_0
	conf.Producer.RequiredAcks = sarama.WaitForAll
	conf.Producer.Return.Successes = true
	conf.Id = `group_comm_transport`
	conf.TopicFormat = `group_comm_%s`
	conf.Logger = log.NewNoopLogger()
	conf.MetricsReporter = metrics.NoopReporter()

	return conf
}

func (c *Config) validate() error {
	if len(c.BootstrapServers) < 1 {
		return errors.New(`[BootstrapServers] cannot be empty`)
	}

	if c.TopicFormat == `` {
		return errors.New(`[TopicFormat] cannot be empty`)
	}

	if c.Logger == nil {
		c.Logger = log.NewNoopLogger()
	}

	if c.MetricsReporter == nil {
		c.MetricsReporter = metrics.NoopReporter()
	}

	return nil
}
