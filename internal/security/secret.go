package security

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// secretCodeAlphabet is the character set for secret codes. Codes compare
// case-insensitively, so only uppercase is issued.
const secretCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// secretCodeLength is the number of alphanumeric characters in a secret code,
// rendered in groups of three (XXX-XXX-XXX).
const secretCodeLength = 9

// GenerateSecretCode issues a reservation secret code in XXX-XXX-XXX form.
func GenerateSecretCode() (string, error) {
	chars, err := randomString(secretCodeAlphabet, secretCodeLength)
	if err != nil {
		return "", fmt.Errorf("security: generate secret code: %w", err)
	}
	var groups []string
	for i := 0; i < len(chars); i += 3 {
		groups = append(groups, chars[i:i+3])
	}
	return strings.Join(groups, "-"), nil
}

// GenerateDoorPIN issues a numeric door PIN of the given length.
func GenerateDoorPIN(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("security: invalid pin length %d", length)
	}
	pin, err := randomString("0123456789", length)
	if err != nil {
		return "", fmt.Errorf("security: generate door pin: %w", err)
	}
	return pin, nil
}

func randomString(alphabet string, length int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
