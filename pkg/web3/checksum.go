package web3

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// IsHexAddress reports whether s looks like a 20-byte hex address with an
// 0x prefix.
func IsHexAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 42 {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// ToChecksumAddress returns the EIP-55 mixed-case form of an address.
func ToChecksumAddress(address string) (string, error) {
	if !IsHexAddress(address) {
		return "", fmt.Errorf("invalid ethereum address %q", address)
	}
	lower := strings.ToLower(address[2:])

	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte(lower))
	hash := hasher.Sum(nil)

	var b strings.Builder
	b.WriteString("0x")
	for i, c := range []byte(lower) {
		// Uppercase the hex digit when the corresponding hash nibble >= 8.
		nibble := hash[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if c >= 'a' && c <= 'f' && nibble >= 8 {
			b.WriteByte(c - 'a' + 'A')
		} else {
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// IsChecksumAddress reports whether address is a valid EIP-55 checksummed
// address.
func IsChecksumAddress(address string) bool {
	checksummed, err := ToChecksumAddress(address)
	if err != nil {
		return false
	}
	return address == checksummed
}
