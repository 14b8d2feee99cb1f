package web3

import (
	"strings"
	"testing"
)

// Vectors from the EIP-55 specification.
var checksumVectors = []string{
	"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
	"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
	"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
	"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
}

func TestToChecksumAddress(t *testing.T) {
	for _, want := range checksumVectors {
		got, err := ToChecksumAddress(strings.ToLower(want))
		if err != nil {
			t.Fatalf("ToChecksumAddress(%q) error: %v", want, err)
		}
		if got != want {
			t.Errorf("ToChecksumAddress = %s, want %s", got, want)
		}
	}
}

func TestIsChecksumAddress(t *testing.T) {
	for _, addr := range checksumVectors {
		if !IsChecksumAddress(addr) {
			t.Errorf("expected %s to be a valid checksum address", addr)
		}
	}
	// Flip the case of one letter.
	bad := strings.Replace(checksumVectors[0], "A", "a", 1)
	if IsChecksumAddress(bad) {
		t.Errorf("expected %s to fail checksum validation", bad)
	}
}

func TestIsHexAddress(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", true},
		{"5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", false},
		{"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAe", false},
		{"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAzz", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsHexAddress(tt.addr); got != tt.want {
			t.Errorf("IsHexAddress(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}
