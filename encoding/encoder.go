/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package encoding

// Encoder bridges typed operator values and the byte payloads carried
// on the wire. Operators are configured with one Encoder each; both
// halves must agree on it across the group.
type Encoder interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte) (interface{}, error)
}

type Builder func() Encoder
