package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const localIDPrefix = "local-"

// ErrInvalidMessageID is returned when an id cannot be decoded.
var ErrInvalidMessageID = errors.New("invalid message id")

// MessageID identifies a message either by its server-assigned id or by a
// placeholder allocated for a locally authored message that has not been
// acknowledged yet. The two namespaces never overlap: a LocalID can never be
// mistaken for a ServerID, whatever its magnitude.
//
// MessageID is comparable and safe to use as a map key.
type MessageID struct {
	server int64
	local  uint64
}

// ServerID returns the id of an acknowledged message.
func ServerID(n int64) MessageID {
	return MessageID{server: n}
}

// LocalID returns a placeholder id for a pending message.
func LocalID(seq uint64) MessageID {
	return MessageID{local: seq}
}

// IsZero reports whether the id is unset.
func (id MessageID) IsZero() bool {
	return id.server == 0 && id.local == 0
}

// IsLocal reports whether the id is a placeholder.
func (id MessageID) IsLocal() bool {
	return id.local != 0
}

// Server returns the numeric server id. ok is false for placeholders and
// unset ids.
func (id MessageID) Server() (n int64, ok bool) {
	if id.local != 0 || id.server <= 0 {
		return 0, false
	}
	return id.server, true
}

// Less orders ids for presentation. Server ids compare numerically and every
// placeholder sorts after every server id, since pending messages are always
// the newest ones a client knows about.
func (id MessageID) Less(other MessageID) bool {
	switch {
	case id.IsLocal() && other.IsLocal():
		return id.local < other.local
	case id.IsLocal():
		return false
	case other.IsLocal():
		return true
	default:
		return id.server < other.server
	}
}

func (id MessageID) String() string {
	if id.IsLocal() {
		return localIDPrefix + strconv.FormatUint(id.local, 10)
	}
	return strconv.FormatInt(id.server, 10)
}

// ParseMessageID parses the String form of an id.
func ParseMessageID(raw string) (MessageID, error) {
	raw = strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(raw, localIDPrefix); ok {
		seq, err := strconv.ParseUint(rest, 10, 64)
		if err != nil || seq == 0 {
			return MessageID{}, fmt.Errorf("%w: %q", ErrInvalidMessageID, raw)
		}
		return LocalID(seq), nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return MessageID{}, fmt.Errorf("%w: %q", ErrInvalidMessageID, raw)
	}
	return ServerID(n), nil
}

// MarshalJSON encodes server ids as numbers and placeholders as strings.
func (id MessageID) MarshalJSON() ([]byte, error) {
	if id.IsLocal() {
		return json.Marshal(id.String())
	}
	return []byte(strconv.FormatInt(id.server, 10)), nil
}

// UnmarshalJSON accepts a number or the String form.
func (id *MessageID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = MessageID{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		parsed, err := ParseMessageID(raw)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidMessageID, string(data))
	}
	*id = ServerID(n)
	return nil
}
