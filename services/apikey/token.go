package apikey

import (
	"fmt"
	"strings"
)

const keyIDPrefix = "wfk_live_"

// FormatKeyID builds the searchable half of a token from an internal id.
func FormatKeyID(id string) string {
	return keyIDPrefix + id
}

// ComposeToken joins key id and plaintext secret into the presented token.
func ComposeToken(keyID, secret string) string {
	return keyID + "." + secret
}

// SplitToken separates a presented token into its key id and secret.
func SplitToken(token string) (keyID, secret string, err error) {
	idx := strings.LastIndex(token, ".")
	if idx <= 0 || idx == len(token)-1 || !strings.HasPrefix(token, keyIDPrefix) {
		return "", "", fmt.Errorf("malformed api key token")
	}
	return token[:idx], token[idx+1:], nil
}
