// Package wesmsg implements the on-wire message envelope exchanged between
// edge plugins and the data sharing service. Encoding is msgpack, matching
// the wagglemsg wire format used by the rest of the node stack.
package wesmsg

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Message is the decoded form of a delivery body: a timestamped, named
// value with a set of metadata tags.
type Message struct {
	Timestamp int64             `msgpack:"timestamp"`
	Name      string            `msgpack:"name"`
	Value     interface{}       `msgpack:"value"`
	Meta      map[string]string `msgpack:"meta"`
}

// Clone returns a deep copy of msg's Meta map so callers can layer in
// additional fields without mutating the original.
func (msg Message) Clone() Message {
	out := msg
	out.Meta = make(map[string]string, len(msg.Meta))
	for k, v := range msg.Meta {
		out.Meta[k] = v
	}
	return out
}

// Decode unpacks a msgpack-encoded envelope. A malformed body, including one
// missing the name field, returns an error distinguishable from a
// cache/metadata miss by the caller checking for *DecodeError. A missing meta
// field is not an error: it decodes as an empty map.
func Decode(body []byte) (Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(body, &msg); err != nil {
		return Message{}, &DecodeError{Err: err}
	}
	if msg.Name == "" {
		return Message{}, &DecodeError{Err: fmt.Errorf("missing name field")}
	}
	if msg.Meta == nil {
		msg.Meta = map[string]string{}
	}
	return msg, nil
}

// Encode packs a Message into its wire form.
func Encode(msg Message) ([]byte, error) {
	return msgpack.Marshal(msg)
}

// DecodeError wraps a decode failure so handlers can distinguish it from
// other reject causes without string matching.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode message: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }
