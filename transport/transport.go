/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package transport

import (
	"context"

	"github.com/tryfix/groupcomm/data"
)

// Sender is the outbound half of a transport. Send is fire-and-forget;
// it returns once the message is handed to the wire, not once it is
// delivered. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, message *data.Message) error
}

// Deliverer is the inbound hook a transport feeds decoded envelopes
// into. The group communication router implements it.
type Deliverer interface {
	Deliver(ctx context.Context, message *data.Message) error
}

// Transport binds a task id to an inbound Deliverer and carries
// outbound messages to peers.
type Transport interface {
	Sender
	Subscribe(taskId string, deliverer Deliverer) error
	Close() error
}
