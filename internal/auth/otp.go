package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"

	"github.com/kozaktomas/face-auth/internal/constants"
	"golang.org/x/crypto/bcrypt"
)

// CodeGenerator returns a new six digit passcode.
type CodeGenerator func() (string, error)

// RandomCode draws a passcode uniformly from [constants.OTPMin, constants.OTPMax].
func RandomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(constants.OTPMax-constants.OTPMin+1))
	if err != nil {
		return "", fmt.Errorf("generating passcode: %w", err)
	}
	return strconv.FormatInt(n.Int64()+constants.OTPMin, 10), nil
}

func hashCode(code string, cost int) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return nil, fmt.Errorf("hashing passcode: %w", err)
	}
	return hash, nil
}

func codeMatches(hash []byte, code string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(code)) == nil
}

// newSessionID returns an unguessable session identifier.
func newSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
