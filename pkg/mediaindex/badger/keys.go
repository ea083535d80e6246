package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/marmos91/scopedfs/pkg/mediaindex"
)

// Database Key Namespace Design
// ==============================
//
// Rows are stored under prefixed keys so point lookups and per-category
// scans never collide.
//
// Data Type          Prefix   Key Format                     Value Type
// =======================================================================
// Media Row          "r:"     r:<id big-endian uint64>       Record (JSON)
// Category Index     "c:"     c:<category>:<id big-endian>   empty
// Id Sequence        "seq:"   seq:records                    badger.Sequence
//
// Ids are encoded big-endian so key order equals id order, which lets
// category scans return rows in insertion order.

const (
	prefixRecord   = "r:"
	prefixCategory = "c:"

	sequenceKey = "seq:records"
)

func encodeID(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

func decodeID(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid id encoding: %d bytes", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func keyRecord(id int64) []byte {
	return append([]byte(prefixRecord), encodeID(id)...)
}

func keyCategoryPrefix(category mediaindex.Category) []byte {
	return []byte(prefixCategory + string(category) + ":")
}

func keyCategory(category mediaindex.Category, id int64) []byte {
	return append(keyCategoryPrefix(category), encodeID(id)...)
}
