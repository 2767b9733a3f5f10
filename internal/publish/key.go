package publish

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// ParseSecretKey accepts an nsec bech32 string or 64 hex characters and
// returns the lowercase hex secret key.
func ParseSecretKey(keyRef string) (string, error) {
	keyRef = strings.TrimSpace(keyRef)
	if keyRef == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}

	if strings.HasPrefix(keyRef, "nsec1") {
		prefix, value, err := nip19.Decode(keyRef)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		sk, ok := value.(string)
		if prefix != "nsec" || !ok {
			return "", fmt.Errorf("%w: unexpected %s payload", ErrInvalidKey, prefix)
		}
		keyRef = sk
	}

	raw, err := hex.DecodeString(keyRef)
	if err != nil || len(raw) != 32 {
		return "", fmt.Errorf("%w: want nsec or 64 hex characters", ErrInvalidKey)
	}
	return hex.EncodeToString(raw), nil
}

// PublicKey returns the hex public key for a key reference.
func PublicKey(keyRef string) (string, error) {
	sk, err := ParseSecretKey(keyRef)
	if err != nil {
		return "", err
	}
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return pk, nil
}
