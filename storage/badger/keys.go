package badger

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/poiesic/persist/storage"
)

// Key prefixes for different data types
const (
	collectionPrefix  = "col:"
	documentPrefix    = "doc:"
	clusterIDSeq      = "colseq"
	positionSeqPrefix = "posseq:"
)

// makeCollectionKey generates the key mapping a collection name to its
// cluster id.
func makeCollectionKey(name string) []byte {
	return []byte(collectionPrefix + storage.CollectionName(name))
}

// makeDocumentKey generates a composite key for a document.
// Format: prefix:cluster:position
func makeDocumentKey(cluster, position uint64) []byte {
	buf := make([]byte, len(documentPrefix)+16)
	offset := copy(buf, documentPrefix)
	// Write in BigEndian order so lexicographic sort follows insertion order
	binary.BigEndian.PutUint64(buf[offset:], cluster)
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], position)
	return buf
}

// makeClusterPrefix generates the scan prefix for every document of a
// cluster.
func makeClusterPrefix(cluster uint64) []byte {
	buf := make([]byte, len(documentPrefix)+8)
	offset := copy(buf, documentPrefix)
	binary.BigEndian.PutUint64(buf[offset:], cluster)
	return buf
}

func makePositionSeqName(cluster uint64) string {
	return fmt.Sprintf("%s%d", positionSeqPrefix, cluster)
}

func encodeCluster(cluster uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, cluster)
	return buf
}

func decodeCluster(val []byte) (uint64, error) {
	if len(val) != 8 {
		return 0, fmt.Errorf("%w: cluster id has %d bytes", storage.ErrTruncatedData, len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

// FormatIdentity renders a record identity as "#cluster:position".
func FormatIdentity(cluster, position uint64) string {
	return fmt.Sprintf("#%d:%d", cluster, position)
}

// ParseIdentity parses an identity produced by FormatIdentity.
func ParseIdentity(id string) (cluster, position uint64, err error) {
	rest, ok := strings.CutPrefix(id, "#")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", storage.ErrInvalidIdentity, id)
	}
	c, p, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", storage.ErrInvalidIdentity, id)
	}
	if cluster, err = strconv.ParseUint(c, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("%w: %q", storage.ErrInvalidIdentity, id)
	}
	if position, err = strconv.ParseUint(p, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("%w: %q", storage.ErrInvalidIdentity, id)
	}
	return cluster, position, nil
}
