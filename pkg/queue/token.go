package queue

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// RandomToken returns an opaque identifier suitable for lease tokens and
// dead-letter entry IDs.
func RandomToken() string {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(raw)
}
