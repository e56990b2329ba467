package learning

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// patternID derives a content-addressed pattern id from the tuple that
// defines pattern identity, so that repeated identical (context, skill,
// outcome) observations collapse onto the same row instead of growing
// the table unbounded, using blake2b for deterministic key derivation.
func patternID(skillID, observation, outcomeType string) string {
	h, _ := blake2b.New256(nil) // nil key is always valid for blake2b.New256
	fmt.Fprintf(h, "%s\x00%s\x00%s", skillID, observation, outcomeType)
	return hex.EncodeToString(h.Sum(nil))
}
