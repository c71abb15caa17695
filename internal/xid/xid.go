package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns a random document id.
func New() string {
	return uuid.NewString()
}

// TransactionHash returns the public token linking a sale to its ledger line.
// The product id suffix namespaces the random part.
func TransactionHash(productID string) string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s%x-%s", strings.ReplaceAll(uuid.NewString(), "-", ""), time.Now().UnixNano(), productID)
	}
	return hex.EncodeToString(buf) + "-" + productID
}
