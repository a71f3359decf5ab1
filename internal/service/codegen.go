package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/kkkkikiki/voucher/internal/metrics"
)

const (
	codeAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	MinCodeLength = 4
	MaxCodeLength = 32
)

// Bytes at or above this value are rejected so every symbol is equally likely.
const rejectAbove = 256 - 256%len(codeAlphabet)

// CodeChecker reports whether a code was ever issued.
type CodeChecker interface {
	CodeExists(ctx context.Context, code string) (bool, error)
}

// CodeGenerator produces random codes that have never been issued.
type CodeGenerator struct {
	checker  CodeChecker
	attempts int
	random   io.Reader
}

// NewCodeGenerator creates a generator that tries at most attempts candidates
// per code.
func NewCodeGenerator(checker CodeChecker, attempts int) *CodeGenerator {
	return &CodeGenerator{
		checker:  checker,
		attempts: attempts,
		random:   rand.Reader,
	}
}

// Generate returns an unused code of the given length.
func (g *CodeGenerator) Generate(ctx context.Context, length int) (string, error) {
	return g.GenerateExcluding(ctx, length, nil)
}

// GenerateExcluding is Generate that additionally skips codes in reserved,
// which holds codes picked earlier in the same request but not yet stored.
func (g *CodeGenerator) GenerateExcluding(ctx context.Context, length int, reserved map[string]struct{}) (string, error) {
	if length < MinCodeLength || length > MaxCodeLength {
		return "", invalid("length", "must be between %d and %d", MinCodeLength, MaxCodeLength)
	}

	for attempt := 0; attempt < g.attempts; attempt++ {
		code, err := g.candidate(length)
		if err != nil {
			return "", fmt.Errorf("failed to read randomness: %w", err)
		}
		if _, taken := reserved[code]; taken {
			metrics.CodeCollisions.Inc()
			continue
		}

		exists, err := g.checker.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check code: %w", err)
		}
		if exists {
			metrics.CodeCollisions.Inc()
			continue
		}
		return code, nil
	}
	return "", ErrCodeExhaustion
}

func (g *CodeGenerator) candidate(length int) (string, error) {
	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := io.ReadFull(g.random, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= rejectAbove {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
