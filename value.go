package den

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Kind identifies the logical type of a Value. The kind is persisted as the
// first byte of the encoded value, so a decode can reject a mismatched read
// without ambiguity.
type Kind byte

const (
	KindAbsent  Kind = 0
	KindBool    Kind = 1
	KindU64     Kind = 2
	KindI64     Kind = 3
	KindF64     Kind = 4
	KindInstant Kind = 5
	KindStr     Kind = 6
	KindJSON    Kind = 7
	KindBlob    Kind = 8
	KindUUID    Kind = 9
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindBool:
		return "bool"
	case KindU64:
		return "u64"
	case KindI64:
		return "i64"
	case KindF64:
		return "f64"
	case KindInstant:
		return "instant"
	case KindStr:
		return "str"
	case KindJSON:
		return "json"
	case KindBlob:
		return "blob"
	case KindUUID:
		return "uuid"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// Value is a tagged union over the types den can store. The zero Value has
// KindAbsent and is what reads return for a missing key.
//
// Scalars (U64, I64, F64, Instant) are encoded as 8 bytes big-endian, so
// stored data is portable across machine architectures. Str, JSON and Blob
// occupy the rest of the encoded buffer; Str and JSON must be valid UTF-8.
type Value struct {
	kind Kind
	num  uint64 // scalar payload bits
	str  string // Str and JSON payload
	raw  []byte // Blob payload
	uid  uuid.UUID
}

// Bool returns a boolean Value.
func Bool(b bool) Value {
	var n uint64
	if b {
		n = 1
	}
	return Value{kind: KindBool, num: n}
}

// U64 returns an unsigned 64-bit integer Value.
func U64(u uint64) Value {
	return Value{kind: KindU64, num: u}
}

// I64 returns a signed 64-bit integer Value.
func I64(i int64) Value {
	return Value{kind: KindI64, num: uint64(i)}
}

// F64 returns an IEEE-754 double Value.
func F64(f float64) Value {
	return Value{kind: KindF64, num: math.Float64bits(f)}
}

// Instant returns a UTC timestamp Value from milliseconds since the epoch.
func Instant(ms int64) Value {
	return Value{kind: KindInstant, num: uint64(ms)}
}

// InstantTime returns a UTC timestamp Value from a time.Time, truncated to
// millisecond precision.
func InstantTime(t time.Time) Value {
	return Instant(t.UnixMilli())
}

// Str returns a UTF-8 string Value.
func Str(s string) Value {
	return Value{kind: KindStr, str: s}
}

// JSON returns a Value holding JSON text. The text is stored verbatim; den
// validates UTF-8, not JSON syntax.
func JSON(s string) Value {
	return Value{kind: KindJSON, str: s}
}

// Blob returns a Value holding arbitrary bytes. The slice is not copied.
func Blob(b []byte) Value {
	return Value{kind: KindBlob, raw: b}
}

// UUID returns a Value holding a UUID.
func UUID(id uuid.UUID) Value {
	return Value{kind: KindUUID, uid: id}
}

// Kind returns the value's logical type.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether the value is the absent (zero) value.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// Bool returns the boolean payload. The second result is false if the value
// is not a bool.
func (v Value) Bool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.num != 0, true
}

// U64 returns the unsigned integer payload.
func (v Value) U64() (uint64, bool) {
	if v.kind != KindU64 {
		return 0, false
	}
	return v.num, true
}

// I64 returns the signed integer payload.
func (v Value) I64() (int64, bool) {
	if v.kind != KindI64 {
		return 0, false
	}
	return int64(v.num), true
}

// F64 returns the float payload.
func (v Value) F64() (float64, bool) {
	if v.kind != KindF64 {
		return 0, false
	}
	return math.Float64frombits(v.num), true
}

// Instant returns the timestamp payload in milliseconds since the epoch.
func (v Value) Instant() (int64, bool) {
	if v.kind != KindInstant {
		return 0, false
	}
	return int64(v.num), true
}

// Time returns the timestamp payload as a UTC time.Time.
func (v Value) Time() (time.Time, bool) {
	ms, ok := v.Instant()
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// Str returns the string payload.
func (v Value) Str() (string, bool) {
	if v.kind != KindStr {
		return "", false
	}
	return v.str, true
}

// JSON returns the JSON text payload.
func (v Value) JSON() (string, bool) {
	if v.kind != KindJSON {
		return "", false
	}
	return v.str, true
}

// Blob returns the blob payload. The slice must not be modified.
func (v Value) Blob() ([]byte, bool) {
	if v.kind != KindBlob {
		return nil, false
	}
	return v.raw, true
}

// UUID returns the UUID payload.
func (v Value) UUID() (uuid.UUID, bool) {
	if v.kind != KindUUID {
		return uuid.UUID{}, false
	}
	return v.uid, true
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindAbsent:
		return true
	case KindStr, KindJSON:
		return v.str == o.str
	case KindBlob:
		return bytes.Equal(v.raw, o.raw)
	case KindUUID:
		return v.uid == o.uid
	default:
		return v.num == o.num
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindAbsent:
		return "Absent"
	case KindBool:
		return fmt.Sprintf("Bool(%t)", v.num != 0)
	case KindU64:
		return fmt.Sprintf("U64(%d)", v.num)
	case KindI64:
		return fmt.Sprintf("I64(%d)", int64(v.num))
	case KindF64:
		return fmt.Sprintf("F64(%g)", math.Float64frombits(v.num))
	case KindInstant:
		return fmt.Sprintf("Instant(%d)", int64(v.num))
	case KindStr:
		return fmt.Sprintf("Str(%q)", v.str)
	case KindJSON:
		return fmt.Sprintf("Json(%s)", v.str)
	case KindBlob:
		return fmt.Sprintf("Blob(%x)", v.raw)
	case KindUUID:
		return fmt.Sprintf("Uuid(%s)", v.uid)
	}
	return fmt.Sprintf("Value(kind=%d)", byte(v.kind))
}

// MarshalBinary encodes the value as a tag byte followed by the payload.
// Encoding an absent value is a usage error.
func (v Value) MarshalBinary() ([]byte, error) {
	switch v.kind {
	case KindBool:
		b := byte(0)
		if v.num != 0 {
			b = 1
		}
		return []byte{byte(KindBool), b}, nil
	case KindU64, KindI64, KindF64, KindInstant:
		buf := make([]byte, 9)
		buf[0] = byte(v.kind)
		binary.BigEndian.PutUint64(buf[1:], v.num)
		return buf, nil
	case KindStr, KindJSON:
		buf := make([]byte, 1+len(v.str))
		buf[0] = byte(v.kind)
		copy(buf[1:], v.str)
		return buf, nil
	case KindBlob:
		buf := make([]byte, 1+len(v.raw))
		buf[0] = byte(KindBlob)
		copy(buf[1:], v.raw)
		return buf, nil
	case KindUUID:
		buf := make([]byte, 17)
		buf[0] = byte(KindUUID)
		copy(buf[1:], v.uid[:])
		return buf, nil
	}
	return nil, WrapError(ErrDecode, fmt.Errorf("cannot encode %s value", v.kind))
}

// DecodeError reports stored bytes that do not match the value wire format.
// It keeps the offending bytes so the caller can diagnose what was actually
// on disk. Malformed input is an expected case (e.g. a store written by an
// incompatible writer) and never panics.
type DecodeError struct {
	Bytes  []byte
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s (bytes: %x)", e.Reason, e.Bytes)
}

func decodeErr(data []byte, format string, args ...any) error {
	return WrapError(ErrDecode, &DecodeError{
		Bytes:  bytes.Clone(data),
		Reason: fmt.Sprintf(format, args...),
	})
}

// DecodeValue decodes a tagged value from its canonical byte encoding.
// The returned Value does not alias data.
func DecodeValue(data []byte) (Value, error) {
	if len(data) == 0 {
		return Value{}, decodeErr(data, "empty value")
	}
	tag := Kind(data[0])
	payload := data[1:]
	switch tag {
	case KindBool:
		if len(payload) != 1 {
			return Value{}, decodeErr(data, "bool payload must be 1 byte, got %d", len(payload))
		}
		switch payload[0] {
		case 0:
			return Bool(false), nil
		case 1:
			return Bool(true), nil
		}
		return Value{}, decodeErr(data, "bool payload must be 0 or 1, got %d", payload[0])
	case KindU64, KindI64, KindF64, KindInstant:
		if len(payload) != 8 {
			return Value{}, decodeErr(data, "%s payload must be 8 bytes, got %d", tag, len(payload))
		}
		return Value{kind: tag, num: binary.BigEndian.Uint64(payload)}, nil
	case KindStr, KindJSON:
		if !utf8.Valid(payload) {
			return Value{}, decodeErr(data, "%s payload is not valid UTF-8", tag)
		}
		return Value{kind: tag, str: string(payload)}, nil
	case KindBlob:
		return Blob(bytes.Clone(payload)), nil
	case KindUUID:
		if len(payload) != 16 {
			return Value{}, decodeErr(data, "uuid payload must be 16 bytes, got %d", len(payload))
		}
		var id uuid.UUID
		copy(id[:], payload)
		return UUID(id), nil
	}
	return Value{}, decodeErr(data, "unknown type tag %d", data[0])
}

// encodeIntKey encodes an integer key as 8 bytes big-endian, untagged.
// Big-endian keeps bytewise order equal to numeric order under the backend's
// key comparison.
func encodeIntKey(k uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], k)
	return buf[:]
}

// decodeIntKey is the inverse of encodeIntKey.
func decodeIntKey(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, decodeErr(b, "integer key must be 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
