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
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/skillgraph/core"
)

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, varint.Uint64.Size(uint64(id)))
	varint.Uint64.Marshal(uint64(id), buf)
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	v, _, err := varint.Uint64.Unmarshal(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return core.ID(v), nil
}

// Object layout:
//
//	id | class | externalID | nFields | (key value)* | nVector | float32le* | insertedAt | updatedAt
//
// Field pairs are written in key order so equal objects encode identically.

// MarshalObject serializes an Object to bytes.
func MarshalObject(obj *core.Object) []byte {
	keys := make([]string, 0, len(obj.Fields))
	for k := range obj.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	size := varint.Uint64.Size(uint64(obj.Id)) +
		ord.String.Size(string(obj.Class)) +
		ord.String.Size(obj.ExternalID) +
		varint.Uint64.Size(uint64(len(keys))) +
		varint.Uint64.Size(uint64(len(obj.Vector))) +
		4*len(obj.Vector) +
		varint.Int64.Size(obj.InsertedAt.UnixMicro()) +
		varint.Int64.Size(obj.UpdatedAt.UnixMicro())
	for _, k := range keys {
		size += ord.String.Size(k) + ord.String.Size(obj.Fields[k])
	}

	buf := make([]byte, size)
	n := varint.Uint64.Marshal(uint64(obj.Id), buf)
	n += ord.String.Marshal(string(obj.Class), buf[n:])
	n += ord.String.Marshal(obj.ExternalID, buf[n:])
	n += varint.Uint64.Marshal(uint64(len(keys)), buf[n:])
	for _, k := range keys {
		n += ord.String.Marshal(k, buf[n:])
		n += ord.String.Marshal(obj.Fields[k], buf[n:])
	}
	n += varint.Uint64.Marshal(uint64(len(obj.Vector)), buf[n:])
	for _, f := range obj.Vector {
		binary.LittleEndian.PutUint32(buf[n:], math.Float32bits(f))
		n += 4
	}
	n += varint.Int64.Marshal(obj.InsertedAt.UnixMicro(), buf[n:])
	varint.Int64.Marshal(obj.UpdatedAt.UnixMicro(), buf[n:])
	return buf
}

// UnmarshalObject deserializes an Object from bytes.
func UnmarshalObject(data []byte) (*core.Object, error) {
	d := &decoder{data: data}

	obj := &core.Object{
		Id:         core.ID(d.uint64()),
		Class:      core.EntityClass(d.string()),
		ExternalID: d.string(),
	}

	nFields := d.count()
	if nFields > 0 {
		obj.Fields = make(map[string]string, nFields)
		for i := 0; i < nFields && d.err == nil; i++ {
			k := d.string()
			obj.Fields[k] = d.string()
		}
	}

	nVector := d.count()
	if nVector > 0 && d.err == nil {
		if len(d.data)-d.pos < 4*nVector {
			d.err = ErrTruncatedData
		} else {
			obj.Vector = make([]float32, nVector)
			for i := range obj.Vector {
				obj.Vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(d.data[d.pos:]))
				d.pos += 4
			}
		}
	}

	obj.InsertedAt = time.UnixMicro(d.int64()).UTC()
	obj.UpdatedAt = time.UnixMicro(d.int64()).UTC()

	if d.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, d.err)
	}
	return obj, nil
}

// MarshalMetadata serializes an IngestionMetadata record to bytes.
func MarshalMetadata(md *core.IngestionMetadata) ([]byte, error) {
	data, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

// UnmarshalMetadata deserializes an IngestionMetadata record from bytes.
func UnmarshalMetadata(data []byte) (*core.IngestionMetadata, error) {
	var md core.IngestionMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &md, nil
}

// decoder walks a byte slice, remembering the first error so callers can
// check once at the end.
type decoder struct {
	data []byte
	pos  int
	err  error
}

func (d *decoder) uint64() uint64 {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Uint64.Unmarshal(d.data[d.pos:])
	d.pos += n
	d.err = err
	return v
}

func (d *decoder) int64() int64 {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(d.data[d.pos:])
	d.pos += n
	d.err = err
	return v
}

func (d *decoder) string() string {
	if d.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(d.data[d.pos:])
	d.pos += n
	d.err = err
	return v
}

// count reads a collection length and rejects lengths the remaining bytes
// cannot possibly hold.
func (d *decoder) count() int {
	v := d.uint64()
	if d.err != nil {
		return 0
	}
	if v > uint64(len(d.data)-d.pos) {
		d.err = ErrTruncatedData
		return 0
	}
	return int(v)
}
