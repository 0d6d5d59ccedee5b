package data

import (
	"fmt"

	"github.com/google/uuid"
)

type Kind int

const (
	Data Kind = iota
	Control
)

func (k Kind) String() string {
	if k == Control {
		return `Control`
	}

	return `Data`
}

// Message is the framed envelope exchanged between tasks of a
// communication group. Payloads are opaque to the transport; most
// operators carry exactly one, scatter and gather carry a list.
type Message struct {
	Group       string
	Operator    string
	Source      string
	Destination string
	Kind        Kind
	Payloads    [][]byte
	UUID        uuid.UUID
}

func NewMessage(group, operator, source, destination string, kind Kind, payloads [][]byte) *Message {
	return &Message{
		Group:       group,
		Operator:    operator,
		Source:      source,
		Destination: destination,
		Kind:        kind,
		Payloads:    payloads,
		UUID:        uuid.New(),
	}
}

func (m *Message) String() string {
	return fmt.Sprintf(`%s_%s_%s_%s`, m.Group, m.Operator, m.Source, m.Destination)
}
