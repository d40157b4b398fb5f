package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	json "github.com/goccy/go-json"
)

var ErrInvalidSignature = errors.New("invalid signature")

type Signer struct {
	secretKey []byte
	logger    *slog.Logger
}

func NewSigner(secretKey string, logger *slog.Logger) *Signer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Signer{
		secretKey: []byte(secretKey),
		logger:    logger,
	}
}

func (s *Signer) Sign(data []byte) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write(data)
	signature := mac.Sum(nil)
	return hex.EncodeToString(signature)
}

func (s *Signer) Verify(data []byte, signature string) (bool, error) {
	expectedSignature := s.Sign(data)

	if !hmac.Equal([]byte(expectedSignature), []byte(signature)) {
		s.logger.Warn("Signature verification failed",
			slog.String("received", signature))
		return false, ErrInvalidSignature
	}

	return true, nil
}

// SignJSON signs the JSON encoding of v. Map keys are encoded sorted, so equal
// values always produce equal signatures.
func (s *Signer) SignJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return s.Sign(data), nil
}

func (s *Signer) VerifyJSON(v any, signature string) (bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("failed to encode payload: %w", err)
	}
	return s.Verify(data, signature)
}
