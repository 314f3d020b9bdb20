// Package secretshare splits a wallet master secret into threshold shares
// and combines them back. Splitting runs server-side at distribution time;
// combining runs on the owner's device, which is the only place a quorum of
// plaintext shares ever exists.
package secretshare

import (
	"fmt"

	"github.com/hashicorp/vault/shamir"

	"github.com/sabi-money/sabi-server/internal/model"
)

const (
	// MinThreshold is the mathematical floor: a threshold below 2 defeats
	// the purpose of distribution.
	MinThreshold = 2
	// MaxParts is the field limit of the GF(256) scheme.
	MaxParts = 255
)

// ValidateParams rejects degenerate sharing parameters before any
// cryptographic work begins.
func ValidateParams(parts, threshold int) error {
	if threshold < MinThreshold {
		return fmt.Errorf("%w: threshold %d is below %d", model.ErrThresholdViolation, threshold, MinThreshold)
	}
	if threshold > parts {
		return fmt.Errorf("%w: threshold %d exceeds share count %d", model.ErrThresholdViolation, threshold, parts)
	}
	if parts > MaxParts {
		return fmt.Errorf("%w: share count %d exceeds %d", model.ErrThresholdViolation, parts, MaxParts)
	}
	return nil
}

// Split divides secret into parts shares such that any threshold of them
// reconstruct it and fewer reveal nothing.
func Split(secret []byte, parts, threshold int) ([][]byte, error) {
	if err := ValidateParams(parts, threshold); err != nil {
		return nil, err
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", model.ErrInvalidInput)
	}

	shares, err := shamir.Split(secret, parts, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split secret: %w", err)
	}

	return shares, nil
}

// Combine reconstructs the secret from at least the threshold number of
// shares. With fewer shares the arithmetic yields a value statistically
// independent of the secret, never the secret itself; callers must verify
// the result against material derived from it (e.g. a public key).
func Combine(shares [][]byte) ([]byte, error) {
	if len(shares) < MinThreshold {
		return nil, fmt.Errorf("%w: %d shares is below the minimum of %d", model.ErrThresholdViolation, len(shares), MinThreshold)
	}

	secret, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("failed to combine shares: %w", err)
	}

	return secret, nil
}

// Zero overwrites sensitive byte slices in place. Used so plaintext shares
// and secrets do not outlive the call that produced them.
func Zero(bs ...[]byte) {
	for _, b := range bs {
		for i := range b {
			b[i] = 0
		}
	}
}
