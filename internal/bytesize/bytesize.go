// Package bytesize provides a byte count type that config files can write in
// human-readable form ("64Ki", "32 KiB", "1MB" or a plain number).
package bytesize

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// ByteSize is a size in bytes.
//
// Binary units (Ki, KiB, Mi, ...) multiply by 1024, decimal units (K, KB, M,
// ...) by 1000. Units are case-insensitive and may be separated from the
// number by spaces.
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

// ParseByteSize parses a human-readable size such as "1Gi", "500MiB" or "1024".
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size string")
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// MarshalText implements encoding.TextMarshaler, so saved configs keep the
// human-readable form.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// String formats the size with binary units, e.g. "64 KiB".
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

func (b ByteSize) Uint64() uint64 { return uint64(b) }

// Int64 may overflow for sizes above 8EiB.
func (b ByteSize) Int64() int64 { return int64(b) }

// Int may overflow on 32-bit platforms.
func (b ByteSize) Int() int { return int(b) }
