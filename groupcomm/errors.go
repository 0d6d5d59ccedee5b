/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package groupcomm

import (
	"fmt"
	"strings"

	"github.com/tryfix/errors"
)

var (
	ErrNotInitialized = errors.New(`operator is not initialized`)
	ErrClosed         = errors.New(`operator is closed`)
	ErrNoParent       = errors.New(`task has no parent in this topology`)
	ErrNoChildren     = errors.New(`task has no children in this topology`)
)

// InitializationError reports a peer that never appeared in the name
// service within the configured retry budget. Fatal for the operator.
type InitializationError struct {
	Peer     string
	Attempts int
}

func (e InitializationError) Error() string {
	return fmt.Sprintf(`peer [%s] not resolved after %d attempts`, e.Peer, e.Attempts)
}

// UnknownPeerError reports a message from or to a task id outside this
// operator's topology. Indicates a driver/topology inconsistency.
type UnknownPeerError struct {
	Peer string
}

func (e UnknownPeerError) Error() string {
	return fmt.Sprintf(`task [%s] is not a peer of this topology`, e.Peer)
}

// UnknownOperatorError reports an inbound message addressed to a
// (group, operator) pair with no registered topology.
type UnknownOperatorError struct {
	Group    string
	Operator string
}

func (e UnknownOperatorError) Error() string {
	return fmt.Sprintf(`no operator [%s] in group [%s]`, e.Operator, e.Group)
}

type MalformedMessageError struct {
	Reason string
}

func (e MalformedMessageError) Error() string {
	return fmt.Sprintf(`malformed message: %s`, e.Reason)
}

// ProtocolError reports a payload count the receiving primitive cannot
// accept, e.g. a scalar receive observing zero or multiple payloads.
type ProtocolError struct {
	Reason string
}

func (e ProtocolError) Error() string {
	return fmt.Sprintf(`protocol violation: %s`, e.Reason)
}

// ArgumentError rejects a local invalid argument. Recoverable; the
// topology state is untouched.
type ArgumentError struct {
	Reason string
}

func (e ArgumentError) Error() string {
	return e.Reason
}

// ReceiveTimeoutError reports a blocking receive that exceeded the
// operator timeout. Pending names the peers still without data; their
// mailboxes are untouched and the call may be retried.
type ReceiveTimeoutError struct {
	Pending []string
}

func (e ReceiveTimeoutError) Error() string {
	return fmt.Sprintf(`receive timed out waiting for [%s]`, strings.Join(e.Pending, `, `))
}
