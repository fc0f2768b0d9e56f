// Package avatar derives profile images for new accounts.
package avatar

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

const gravatarBase = "//www.gravatar.com/avatar/"

// Gravatar returns the protocol-relative gravatar URL for email: 200px, pg rated,
// mystery-man fallback.
func Gravatar(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return gravatarBase + hex.EncodeToString(sum[:]) + "?s=200&r=pg&d=mm"
}
