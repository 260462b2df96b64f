package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var ErrInvalidLength = errors.New("OTP length must be between 4 and 10")

const (
	DefaultLength = 6
	MinLength     = 4
	MaxLength     = 10
)

// Generate создает числовой код заданной длины с ведущими нулями
func Generate(length int) (string, error) {
	if length < MinLength || length > MaxLength {
		return "", ErrInvalidLength
	}

	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate random number: %w", err)
	}

	return fmt.Sprintf("%0*d", length, n), nil
}

// Hash sha256 от кода в hex
func Hash(code string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(code)))
	return hex.EncodeToString(sum[:])
}

// Matches сравнивает код с хэшем за постоянное время
func Matches(hash, code string) bool {
	return subtle.ConstantTimeCompare([]byte(hash), []byte(Hash(code))) == 1
}
