package replication

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/roach88/till/internal/remote"
)

// domainSnapshot separates snapshot fingerprints from any other hash of the
// same bytes. The version suffix changes if the snapshot encoding does.
const domainSnapshot = "till/snapshot/v1"

// hashWithDomain returns SHA256(domain || 0x00 || data) as hex.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// fingerprint identifies a snapshot's content. TakenAt is excluded so two
// snapshots of the same open tickets match.
func fingerprint(s remote.Snapshot) (string, error) {
	s.TakenAt = 0
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("fingerprint snapshot: %w", err)
	}
	return hashWithDomain(domainSnapshot, data), nil
}
