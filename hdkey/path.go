package hdkey

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/ruteri/custody-keyengine/params"
)

// ChildPathNumber is one derivation step: a 31-bit index plus the hardened flag.
type ChildPathNumber struct {
	Index    uint32
	Hardened bool
}

// Hardened returns the hardened child number for index.
func Hardened(index uint32) ChildPathNumber {
	return ChildPathNumber{Index: index &^ params.HardenedOffset, Hardened: true}
}

// Normal returns the non-hardened child number for index.
func Normal(index uint32) ChildPathNumber {
	return ChildPathNumber{Index: index &^ params.HardenedOffset}
}

// ChildPathNumberFromUint32 splits a raw BIP32 child number.
func ChildPathNumberFromUint32(raw uint32) ChildPathNumber {
	return ChildPathNumber{
		Index:    raw &^ params.HardenedOffset,
		Hardened: raw&params.HardenedOffset != 0,
	}
}

// Uint32 returns the raw child number with the top bit carrying the hardened flag.
func (c ChildPathNumber) Uint32() uint32 {
	raw := c.Index &^ params.HardenedOffset
	if c.Hardened {
		raw |= params.HardenedOffset
	}
	return raw
}

// Bytes is the 4-byte big-endian encoding.
func (c ChildPathNumber) Bytes() [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], c.Uint32())
	return b
}

func (c ChildPathNumber) String() string {
	s := strconv.FormatUint(uint64(c.Index&^params.HardenedOffset), 10)
	if c.Hardened {
		return s + "'"
	}
	return s
}

// Path is a sequence of derivation steps applied from the master key.
type Path []ChildPathNumber

// PathFromUint32 converts raw child numbers, e.g. from params.PurposePath.
func PathFromUint32(raw []uint32) Path {
	p := make(Path, len(raw))
	for i, r := range raw {
		p[i] = ChildPathNumberFromUint32(r)
	}
	return p
}

func (p Path) String() string {
	var sb strings.Builder
	sb.WriteString("m")
	for _, c := range p {
		sb.WriteByte('/')
		sb.WriteString(c.String())
	}
	return sb.String()
}

// ParsePath parses "m/44'/60'/0'/0". Hardened steps may be marked with ', h or H.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	parts := strings.Split(s, "/")
	if parts[0] != "m" && parts[0] != "M" {
		return nil, fmt.Errorf("%w: %q must start with m", ErrInvalidPath, s)
	}

	path := make(Path, 0, len(parts)-1)
	for _, part := range parts[1:] {
		hardened := false
		switch {
		case strings.HasSuffix(part, "'"), strings.HasSuffix(part, "h"), strings.HasSuffix(part, "H"):
			hardened = true
			part = part[:len(part)-1]
		}
		index, err := strconv.ParseUint(part, 10, 32)
		if err != nil || index >= uint64(params.HardenedOffset) {
			return nil, fmt.Errorf("%w: bad component %q", ErrInvalidPath, part)
		}
		path = append(path, ChildPathNumber{Index: uint32(index), Hardened: hardened})
	}
	return path, nil
}
