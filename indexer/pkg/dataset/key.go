package dataset

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"time"
)

// NaturalKey is an ordered tuple of column values, such as the identifier
// columns of an entity or a full selected row.
type NaturalKey struct {
	Values []any
}

// SurrogateKey is the deterministic hash of a NaturalKey.
type SurrogateKey string

func NewNaturalKey(values ...any) *NaturalKey {
	return &NaturalKey{Values: values}
}

// ToSurrogate hashes the key. Each value is written as tag:length:payload so
// that distinct tuples cannot collide through concatenation. Integer widths
// collapse to one tag, so int(1) and int64(1) hash equal, while 1 and "1"
// do not. nil has its own tag, making two NULLs equal.
func (p *NaturalKey) ToSurrogate() SurrogateKey {
	var buf bytes.Buffer
	for _, val := range p.Values {
		tag, payload := encodeKeyValue(val)
		buf.WriteString(tag)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(len(payload)))
		buf.WriteByte(':')
		buf.Write(payload)
	}
	hash := sha256.Sum256(buf.Bytes())
	return SurrogateKey(hex.EncodeToString(hash[:]))
}

// String renders the key for logs and sorting.
func (p *NaturalKey) String() string {
	var buf bytes.Buffer
	for i, v := range p.Values {
		if i > 0 {
			buf.WriteByte('|')
		}
		if v == nil {
			buf.WriteString("<nil>")
			continue
		}
		fmt.Fprint(&buf, v)
	}
	return buf.String()
}

func encodeKeyValue(val any) (string, []byte) {
	var b [8]byte
	switch v := val.(type) {
	case nil:
		return "nil", nil
	case string:
		return "string", []byte(v)
	case []byte:
		return "string", v
	case int:
		binary.BigEndian.PutUint64(b[:], uint64(int64(v)))
	case int8:
		binary.BigEndian.PutUint64(b[:], uint64(int64(v)))
	case int16:
		binary.BigEndian.PutUint64(b[:], uint64(int64(v)))
	case int32:
		binary.BigEndian.PutUint64(b[:], uint64(int64(v)))
	case int64:
		binary.BigEndian.PutUint64(b[:], uint64(v))
	case uint8:
		binary.BigEndian.PutUint64(b[:], uint64(v))
	case uint16:
		binary.BigEndian.PutUint64(b[:], uint64(v))
	case uint32:
		binary.BigEndian.PutUint64(b[:], uint64(v))
	case uint:
		return encodeUint(uint64(v))
	case uint64:
		return encodeUint(v)
	case float32:
		return "float", binary.BigEndian.AppendUint64(nil, math.Float64bits(float64(v)))
	case float64:
		return "float", binary.BigEndian.AppendUint64(nil, math.Float64bits(v))
	case bool:
		if v {
			return "bool", []byte{1}
		}
		return "bool", []byte{0}
	case time.Time:
		return "time", []byte(v.UTC().Format(time.RFC3339Nano))
	case Timestamp:
		return "timestamp", []byte(v.Label())
	default:
		return fmt.Sprintf("%T", v), []byte(fmt.Sprintf("%v", v))
	}
	return "int", b[:]
}

func encodeUint(v uint64) (string, []byte) {
	if v > math.MaxInt64 {
		return "uint", binary.BigEndian.AppendUint64(nil, v)
	}
	return "int", binary.BigEndian.AppendUint64(nil, v)
}
