package gateway

import (
	"crypto/hmac"
	"encoding/hex"
	"hash"
	"strings"
)

func sign(newHash func() hash.Hash, secret, data string) string {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(newHash func() hash.Hash, secret, data, got string) bool {
	if secret == "" || got == "" {
		return false
	}
	expected := sign(newHash, secret, data)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(got))))
}
