package chat

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// SecretScanner detects secret-like content in outgoing user text.
type SecretScanner interface {
	// Scan returns the text with secrets replaced by a marker and whether
	// any replacement happened.
	Scan(ctx context.Context, text string) (redacted string, hadRedactions bool, err error)
}

const redactionMarker = "[redacted]"

// PatternScanner matches a fixed set of credential patterns.
type PatternScanner struct {
	patterns []*regexp.Regexp
	timeout  time.Duration
}

// NewPatternScanner builds a scanner with the default pattern set.
// timeout bounds one Scan call; zero disables the bound.
func NewPatternScanner(timeout time.Duration) *PatternScanner {
	return &PatternScanner{
		patterns: defaultPatterns(),
		timeout:  timeout,
	}
}

func defaultPatterns() []*regexp.Regexp {
	raw := []string{
		// OpenAI / Anthropic API keys
		`sk-[A-Za-z0-9]{48}`,
		`sk-proj-[A-Za-z0-9_-]{48,}`,
		`sk-ant-[A-Za-z0-9_-]{95,}`,

		// AWS access keys
		`AKIA[0-9A-Z]{16}`,

		// Generic key=value credentials
		`api[_-]?key[_-]?[:=]\s*['\"]?[A-Za-z0-9_-]{20,}['\"]?`,
		`secret[_-]?[:=]\s*['\"]?[A-Za-z0-9_-]{20,}['\"]?`,

		// Bearer tokens
		`Bearer\s+[A-Za-z0-9_-]{20,}`,

		// GitHub tokens
		`gh[oprsu]_[A-Za-z0-9]{36}`,

		// PEM private keys
		`-----BEGIN\s+(?:RSA|DSA|EC|OPENSSH|PGP)\s+PRIVATE\s+KEY-----`,
	}

	compiled := make([]*regexp.Regexp, 0, len(raw))
	for _, pattern := range raw {
		compiled = append(compiled, regexp.MustCompile(pattern))
	}
	return compiled
}

// Scan implements SecretScanner.
func (s *PatternScanner) Scan(ctx context.Context, text string) (string, bool, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	hadRedactions := false
	redacted := text
	for _, pattern := range s.patterns {
		if err := ctx.Err(); err != nil {
			return "", false, fmt.Errorf("secret scan interrupted: %w", err)
		}
		matches := pattern.FindAllStringIndex(redacted, -1)
		if len(matches) == 0 {
			continue
		}
		hadRedactions = true
		// Replace back to front so earlier indices stay valid.
		for i := len(matches) - 1; i >= 0; i-- {
			start, end := matches[i][0], matches[i][1]
			redacted = redacted[:start] + redactionMarker + redacted[end:]
		}
	}
	return redacted, hadRedactions, nil
}
