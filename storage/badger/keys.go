package badger

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/poiesic/skillgraph/core"
)

// Key prefixes for different data types
const (
	objectRecordPrefix = "objrec"
	objectIndexPrefix  = "objidx"
	objectRefPrefix    = "objref"
	schemaPrefix       = "schema"
	metadataPrefix     = "ingmeta"
	metadataSeq        = "ingmetaseq"
)

// makeObjectKey generates a key for an object by ID.
func makeObjectKey(id core.ID) []byte {
	return []byte(fmt.Sprintf("%s:%d", objectRecordPrefix, id))
}

// makeObjectIndexKey generates the identifier index key for an object.
// Format: prefix:class:externalID
func makeObjectIndexKey(class core.EntityClass, externalID string) []byte {
	return []byte(objectIndexPrefix + ":" + string(class) + ":" + externalID)
}

// makeObjectIndexPrefix generates the prefix covering every index key of a class.
func makeObjectIndexPrefix(class core.EntityClass) []byte {
	return []byte(objectIndexPrefix + ":" + string(class) + ":")
}

// makeReferenceKey generates a composite key for a directed reference.
// Format: prefix:property:fromID:toID
func makeReferenceKey(property string, from, to core.ID) []byte {
	prefix := makeReferencePrefix(property, from)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(to))
	return buf
}

// makeReferencePrefix generates a partial key for references from one object.
// Format: prefix:property:fromID
func makeReferencePrefix(property string, from core.ID) []byte {
	prefix := makePropertyPrefix(property)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(from))
	return buf
}

// makePropertyPrefix generates a partial key covering all references of a property.
// Format: prefix:property:
func makePropertyPrefix(property string) []byte {
	return []byte(objectRefPrefix + ":" + property + ":")
}

// referenceTarget extracts the target ID from a reference key.
func referenceTarget(key []byte) core.ID {
	return core.ID(binary.BigEndian.Uint64(key[len(key)-8:]))
}

// makeSchemaKey generates the schema marker key for a class.
func makeSchemaKey(class core.EntityClass) []byte {
	return []byte(schemaPrefix + ":" + string(class))
}

// makeMetadataKey generates a composite key for a metadata record.
// Format: prefix:timestamp:seq
func makeMetadataKey(timestamp time.Time, seq uint64) []byte {
	prefix := metadataPrefix + ":"
	buf := make([]byte, len(prefix)+16)
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(timestamp.UnixNano()))
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], seq)
	return buf
}

// makeMetadataSeekKey generates a key that sorts after every metadata key.
func makeMetadataSeekKey() []byte {
	prefix := metadataPrefix + ":"
	buf := make([]byte, len(prefix)+16)
	offset := copy(buf, prefix)
	for i := offset; i < len(buf); i++ {
		buf[i] = 0xFF
	}
	return buf
}
