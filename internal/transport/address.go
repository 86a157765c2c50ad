package transport

import (
	"crypto/rand"
	"math/big"
)

const (
	AddressLength   = 16
	addressAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// GenerateAddress returns a random alphanumeric peer address.
func GenerateAddress() (string, error) {
	max := big.NewInt(int64(len(addressAlphabet)))
	b := make([]byte, AddressLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = addressAlphabet[n.Int64()]
	}
	return string(b), nil
}

func ValidAddress(addr string) bool {
	if addr == "" {
		return false
	}
	for _, r := range addr {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
