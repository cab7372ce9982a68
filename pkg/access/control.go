package access

import (
	"context"
	"fmt"
	"strings"

	"github.com/marmos91/kioaccess/internal/telemetry"
	"github.com/marmos91/kioaccess/pkg/stream"
)

// Query is a control query a host may issue against a Handle.
type Query int

const (
	QueryCanSeek Query = iota
	QueryCanPause
	QueryCanFastSeek
	QueryCanControlPace
	QueryPTSDelay
	QuerySize
	QueryTitle
	QueryMeta
	QueryContentType
	QuerySignal
)

var queryNames = map[Query]string{
	QueryCanSeek:        "can-seek",
	QueryCanPause:       "can-pause",
	QueryCanFastSeek:    "can-fast-seek",
	QueryCanControlPace: "can-control-pace",
	QueryPTSDelay:       "pts-delay",
	QuerySize:           "size",
	QueryTitle:          "title",
	QueryMeta:           "meta",
	QueryContentType:    "content-type",
	QuerySignal:         "signal",
}

func (q Query) String() string {
	if name, ok := queryNames[q]; ok {
		return name
	}
	return fmt.Sprintf("query(%d)", int(q))
}

// ParseQuery parses a query name such as "can-seek" or "pts-delay".
func ParseQuery(s string) (Query, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.ReplaceAll(name, "_", "-")
	for q, n := range queryNames {
		if n == name {
			return q, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", stream.ErrUnsupported, s)
}

// Queries lists every known query in declaration order.
func Queries() []Query {
	out := make([]Query, 0, len(queryNames))
	for q := QueryCanSeek; q <= QuerySignal; q++ {
		out = append(out, q)
	}
	return out
}

// Control answers a control query.
//
// The capability queries return bool, QueryPTSDelay a time.Duration and
// QuerySize a uint64. QuerySize fails with stream.ErrUnsupported while the
// size is unknown; title, meta, content-type and signal always do.
func (h *Handle) Control(q Query) (any, error) {
	_, span := telemetry.StartStreamSpan(context.Background(), telemetry.SpanControl, h.ID(), h.prov,
		telemetry.ControlQuery(q.String()))
	defer span.End()

	switch q {
	case QueryCanSeek, QueryCanPause:
		return true, nil
	case QueryCanFastSeek, QueryCanControlPace:
		return false, nil
	case QueryPTSDelay:
		return h.a.cfg.PTSDelay, nil
	case QuerySize:
		if size, ok := h.Size(); ok {
			return size, nil
		}
		return nil, fmt.Errorf("%w: size not known", stream.ErrUnsupported)
	default:
		return nil, fmt.Errorf("%w: %s", stream.ErrUnsupported, q)
	}
}
