package migration

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Checksum returns the content checksum of the record's scripts. Both the up
// and the down script participate so that editing either one is reported as
// drift.
func (r Record) Checksum() string {
	return ChecksumScripts(r.UpScript, r.DownScript)
}

// ChecksumScripts hashes an up/down script pair with BLAKE2b-256.
func ChecksumScripts(up, down string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(up))
	h.Write([]byte{0})
	h.Write([]byte(down))
	return hex.EncodeToString(h.Sum(nil))
}
