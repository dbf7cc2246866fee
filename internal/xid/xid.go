package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Code returns a human readable token such as ORD-1718000000000-3FA2C1.
func Code(prefix string) string {
	buf := make([]byte, 3)
	millis := time.Now().UnixMilli()
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, millis, strings.ToUpper(hex.EncodeToString(buf)))
}

func NewID() string {
	return uuid.NewString()
}
