package handshake

import "crypto/rand"

// randomBytes fills n cryptographically random bytes. Kept on
// crypto/rand deliberately: spec.md §5 requires unpredictable
// 32-bit socket-ids and §4.1's cookie secret must not be guessable,
// neither of which any library in the pack addresses more directly
// than the standard library already does (github.com/rs/xid and
// github.com/google/uuid both solve a different problem — globally
// unique, larger, sortable/structured identifiers — not a raw
// uniformly random 32-bit wire value or a MAC key).
func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// randomUint32 returns a uniformly random 32-bit value; newInitialSeq
// uses it to pick initial sequence numbers.
func randomUint32() (uint32, error) {
	b, err := randomBytes(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}
