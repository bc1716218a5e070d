// Package crypto provides request signing for venue websocket
// authentication.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// SignExpires computes the hex HMAC-SHA256 of verb + path + expires under
// the API secret. This is the signature scheme used by the authKeyExpires
// websocket auth frame.
func SignExpires(secret, verb, path string, expires int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(verb + path + strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
