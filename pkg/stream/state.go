package stream

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateUnopened State = iota
	StateOpening
	StateStreaming
	StateSeeking
	StateEOF
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	case StateSeeking:
		return "seeking"
	case StateEOF:
		return "eof"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether reads in this state can only return end-of-stream
// or a closed error.
func (s State) Terminal() bool {
	return s == StateEOF || s == StateError || s == StateClosed
}

// ReadPolicy selects what a read does when the buffer is empty and the stream
// is still live. A session keeps the policy it was created with.
type ReadPolicy int

const (
	// ReadNonBlocking returns (nil, nil) so the host retries shortly.
	ReadNonBlocking ReadPolicy = iota

	// ReadBlocking waits until data, end-of-stream, close or cancellation.
	ReadBlocking
)

func (p ReadPolicy) String() string {
	if p == ReadBlocking {
		return "blocking"
	}
	return "nonblocking"
}

// ParseReadPolicy parses "blocking" or "nonblocking" (empty selects the latter).
func ParseReadPolicy(s string) (ReadPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nonblocking", "non-blocking":
		return ReadNonBlocking, nil
	case "blocking":
		return ReadBlocking, nil
	default:
		return ReadNonBlocking, fmt.Errorf("invalid read policy %q (valid: blocking, nonblocking)", s)
	}
}

// Config sizes a session's buffering.
type Config struct {
	// BlockSize is the most a single read returns.
	BlockSize int

	// LowWater is the buffer level reads are topped up to.
	LowWater uint64

	// RequestUnit caps the size of one provider read.
	RequestUnit uint64

	// MaxOutstanding bounds requested-but-undelivered bytes.
	MaxOutstanding uint64

	// ReadPolicy is fixed for the session's lifetime.
	ReadPolicy ReadPolicy
}

// DefaultConfig returns the default session sizing.
func DefaultConfig() Config {
	return Config{
		BlockSize:      DefaultBlockSize,
		LowWater:       DefaultLowWater,
		RequestUnit:    DefaultRequestUnit,
		MaxOutstanding: DefaultMaxOutstanding,
		ReadPolicy:     ReadNonBlocking,
	}
}

func (c *Config) applyDefaults() {
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.LowWater == 0 {
		c.LowWater = DefaultLowWater
	}
	if c.RequestUnit == 0 {
		c.RequestUnit = DefaultRequestUnit
	}
	if c.MaxOutstanding == 0 {
		c.MaxOutstanding = c.RequestUnit
	}
}
