package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"math/big"
	"strings"
)

// BackupCodeAlphabet omits characters that are easy to misread (0/O, 1/I/L).
const BackupCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// NewBackupCodes returns n fresh codes of the given length in display form.
func NewBackupCodes(n, length int) ([]string, error) {
	codes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		code, err := NewBackupCode(length)
		if err != nil {
			return nil, err
		}
		codes = append(codes, FormatBackupCode(code))
	}
	return codes, nil
}

func NewBackupCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(BackupCodeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// FormatBackupCode splits a code in two halves for display ("ABCDE-FGHJK").
func FormatBackupCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalizeBackupCode strips separators and case so that user input in any
// display form hashes to the stored value.
func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// LooksLikeBackupCode reports whether a canonical code could have been issued
// with the given length.
func LooksLikeBackupCode(canonical string, length int) bool {
	if len(canonical) != length {
		return false
	}
	for i := 0; i < len(canonical); i++ {
		if strings.IndexByte(BackupCodeAlphabet, canonical[i]) < 0 {
			return false
		}
	}
	return true
}

// BackupCodeHash binds the code to its owner so equal codes of two users never collide.
func BackupCodeHash(userID, canonicalCode string) [32]byte {
	data := make([]byte, 0, len(userID)+1+len(canonicalCode))
	data = append(data, userID...)
	data = append(data, 0)
	data = append(data, canonicalCode...)
	return sha256.Sum256(data)
}

// HashBackupCodes hashes display-form codes for storage.
func HashBackupCodes(userID string, codes []string) [][32]byte {
	out := make([][32]byte, 0, len(codes))
	for _, code := range codes {
		out = append(out, BackupCodeHash(userID, CanonicalizeBackupCode(code)))
	}
	return out
}
