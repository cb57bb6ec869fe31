package grid

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for hashing. The version suffix enables future
// algorithm migration without colliding with old keys.
const (
	DomainRouteKey = "pulsegrid/routekey/v1"
	DomainNodeSeed = "pulsegrid/nodeseed/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// RouteKey computes the cache key for one edge's routing inputs. The value
// is stable across runs and processes: identical geometry and config yield
// the identical key.
func RouteKey(inputs map[string]any) (string, error) {
	canonical, err := MarshalCanonical(inputs)
	if err != nil {
		return "", fmt.Errorf("RouteKey: marshal: %w", err)
	}
	sum := hashWithDomain(DomainRouteKey, canonical)
	return hex.EncodeToString(sum[:]), nil
}

// NodeSeed derives a per-node RNG seed from the global seed and the node id.
// The node contribution is the first 8 bytes of a domain-separated SHA-256
// of the id, so renaming unrelated nodes never shifts another node's
// random sequence.
func NodeSeed(globalSeed uint64, id NodeID) uint64 {
	sum := hashWithDomain(DomainNodeSeed, []byte(id))
	return globalSeed ^ binary.BigEndian.Uint64(sum[:8])
}
