// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package storage

import (
	"bytes"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
)

// DigestSize is the length of the BLAKE2b digest appended to every
// serialized document.
const DigestSize = 8

// Value tags on the wire.
const (
	tagNull byte = iota
	tagBool
	tagInt
	tagFloat
	tagString
	tagTime
	tagDocument
	tagList
)

// MarshalDocument serializes doc to bytes. Field values must already be
// normalized.
func MarshalDocument(doc *Document) ([]byte, error) {
	size, err := documentSize(doc)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size, size+DigestSize)
	n := marshalDocument(doc, buf)
	buf = buf[:n]
	return append(buf, digest(buf)...), nil
}

// UnmarshalDocument deserializes bytes produced by MarshalDocument.
func UnmarshalDocument(data []byte) (*Document, error) {
	if len(data) < DigestSize {
		return nil, ErrTruncatedData
	}
	body, sum := data[:len(data)-DigestSize], data[len(data)-DigestSize:]
	if !bytes.Equal(digest(body), sum) {
		return nil, ErrChecksumMismatch
	}
	doc, n, err := unmarshalDocument(body, 0)
	if err != nil {
		return nil, err
	}
	if n != len(body) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrSerializationFailed, len(body)-n)
	}
	return doc, nil
}

func digest(data []byte) []byte {
	h, _ := blake2b.New(DigestSize, nil)
	h.Write(data)
	return h.Sum(nil)
}

func documentSize(doc *Document) (int, error) {
	size := ord.String.Size(doc.Class) + ord.String.Size(doc.Identity) + varint.Int.Size(len(doc.fields))
	for name, value := range doc.fields {
		n, err := valueSize(value)
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", name, err)
		}
		size += ord.String.Size(name) + n
	}
	return size, nil
}

func valueSize(v any) (int, error) {
	switch t := v.(type) {
	case nil:
		return 1, nil
	case bool:
		return 1 + ord.Bool.Size(t), nil
	case int64:
		return 1 + varint.Int64.Size(t), nil
	case float64:
		return 1 + varint.Uint64.Size(math.Float64bits(t)), nil
	case string:
		return 1 + ord.String.Size(t), nil
	case time.Time:
		return 1 + varint.Int64.Size(t.UnixNano()), nil
	case *Document:
		n, err := documentSize(t)
		return 1 + n, err
	case []any:
		size := 1 + varint.Int.Size(len(t))
		for _, e := range t {
			n, err := valueSize(e)
			if err != nil {
				return 0, err
			}
			size += n
		}
		return size, nil
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrSerializationFailed, v)
	}
}

func marshalDocument(doc *Document, bs []byte) int {
	n := ord.String.Marshal(doc.Class, bs)
	n += ord.String.Marshal(doc.Identity, bs[n:])
	n += varint.Int.Marshal(len(doc.fields), bs[n:])
	names := make([]string, 0, len(doc.fields))
	for name := range doc.fields {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		n += ord.String.Marshal(name, bs[n:])
		n += marshalValue(doc.fields[name], bs[n:])
	}
	return n
}

func marshalValue(v any, bs []byte) int {
	switch t := v.(type) {
	case nil:
		bs[0] = tagNull
		return 1
	case bool:
		bs[0] = tagBool
		return 1 + ord.Bool.Marshal(t, bs[1:])
	case int64:
		bs[0] = tagInt
		return 1 + varint.Int64.Marshal(t, bs[1:])
	case float64:
		bs[0] = tagFloat
		return 1 + varint.Uint64.Marshal(math.Float64bits(t), bs[1:])
	case string:
		bs[0] = tagString
		return 1 + ord.String.Marshal(t, bs[1:])
	case time.Time:
		bs[0] = tagTime
		return 1 + varint.Int64.Marshal(t.UnixNano(), bs[1:])
	case *Document:
		bs[0] = tagDocument
		return 1 + marshalDocument(t, bs[1:])
	case []any:
		bs[0] = tagList
		n := 1 + varint.Int.Marshal(len(t), bs[1:])
		for _, e := range t {
			n += marshalValue(e, bs[n:])
		}
		return n
	}
	// valueSize rejects everything else before marshaling starts
	panic(fmt.Sprintf("storage: unexpected value type %T", v))
}

const maxNesting = 64

func unmarshalDocument(bs []byte, depth int) (*Document, int, error) {
	if depth > maxNesting {
		return nil, 0, fmt.Errorf("%w: nesting exceeds %d", ErrSerializationFailed, maxNesting)
	}
	class, n, err := ord.String.Unmarshal(bs)
	if err != nil {
		return nil, 0, wrapDecode(err)
	}
	identity, m, err := ord.String.Unmarshal(bs[n:])
	if err != nil {
		return nil, 0, wrapDecode(err)
	}
	n += m
	count, m, err := varint.Int.Unmarshal(bs[n:])
	if err != nil {
		return nil, 0, wrapDecode(err)
	}
	n += m
	if count < 0 || count > len(bs)-n {
		return nil, 0, fmt.Errorf("%w: invalid field count %d", ErrSerializationFailed, count)
	}
	doc := NewDocument(class)
	doc.Identity = identity
	for range count {
		name, m, err := ord.String.Unmarshal(bs[n:])
		if err != nil {
			return nil, 0, wrapDecode(err)
		}
		n += m
		value, m, err := unmarshalValue(bs[n:], depth)
		if err != nil {
			return nil, 0, fmt.Errorf("field %q: %w", name, err)
		}
		n += m
		doc.fields[name] = value
	}
	return doc, n, nil
}

func unmarshalValue(bs []byte, depth int) (any, int, error) {
	if len(bs) == 0 {
		return nil, 0, ErrTruncatedData
	}
	var (
		v   any
		n   int
		err error
	)
	switch bs[0] {
	case tagNull:
		return nil, 1, nil
	case tagBool:
		v, n, err = ord.Bool.Unmarshal(bs[1:])
	case tagInt:
		v, n, err = varint.Int64.Unmarshal(bs[1:])
	case tagFloat:
		var bits uint64
		bits, n, err = varint.Uint64.Unmarshal(bs[1:])
		v = math.Float64frombits(bits)
	case tagString:
		v, n, err = ord.String.Unmarshal(bs[1:])
	case tagTime:
		var nanos int64
		nanos, n, err = varint.Int64.Unmarshal(bs[1:])
		v = time.Unix(0, nanos).UTC()
	case tagDocument:
		var doc *Document
		doc, n, err = unmarshalDocument(bs[1:], depth+1)
		if err != nil {
			return nil, 0, err
		}
		return doc, 1 + n, nil
	case tagList:
		return unmarshalList(bs, depth)
	default:
		return nil, 0, fmt.Errorf("%w: unknown value tag %d", ErrSerializationFailed, bs[0])
	}
	if err != nil {
		return nil, 0, wrapDecode(err)
	}
	return v, 1 + n, nil
}

func unmarshalList(bs []byte, depth int) (any, int, error) {
	if depth > maxNesting {
		return nil, 0, fmt.Errorf("%w: nesting exceeds %d", ErrSerializationFailed, maxNesting)
	}
	count, n, err := varint.Int.Unmarshal(bs[1:])
	if err != nil {
		return nil, 0, wrapDecode(err)
	}
	n++
	if count < 0 || count > len(bs)-n {
		return nil, 0, fmt.Errorf("%w: invalid list length %d", ErrSerializationFailed, count)
	}
	list := make([]any, 0, count)
	for range count {
		e, m, err := unmarshalValue(bs[n:], depth+1)
		if err != nil {
			return nil, 0, err
		}
		n += m
		list = append(list, e)
	}
	return list, n, nil
}

func wrapDecode(err error) error {
	return fmt.Errorf("%w: %w", ErrTruncatedData, err)
}
