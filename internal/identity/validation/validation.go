// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

// Package validation holds the stateless identity helpers shared by both
// authentication adapters: email normalization, the disposable-domain
// heuristic, one-time code generation, and the Unix-second clock.
//
// Nothing in this package has side effects; adapters and tests call it
// directly.
package validation

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"
)

// disposableSnippets is a fixed denylist of substrings found in throwaway
// mail providers. This is a demo-grade heuristic, not a public-suffix lookup.
var disposableSnippets = []string{
	"mailinator",
	"tempmail",
	"10minutemail",
	"guerrillamail",
	"yopmail",
	"trashmail",
	"dispostable",
	"getnada",
	"moakt",
	"fakeinbox",
	"sharklasers",
	"maildrop",
	"throwaway",
	"e4ward",
	"anonbox",
	"spambox",
}

// NormalizeEmail trims surrounding whitespace and lower-cases the address.
// Empty input yields an empty string.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsDisposableDomain reports whether the email's domain contains any known
// throwaway-provider snippet.
func IsDisposableDomain(email string) bool {
	_, domain, found := strings.Cut(email, "@")
	if !found {
		return false
	}

	for _, snippet := range disposableSnippets {
		if strings.Contains(domain, snippet) {
			return true
		}
	}
	return false
}

// LocalPart returns the part of the address before the '@', used as the
// display-name fallback for blank names.
func LocalPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

// codeSpan is the size of the 6-digit code space [100000, 999999].
var codeSpan = big.NewInt(900000)

// GenerateCode returns a 6-digit numeric code drawn uniformly from
// 100000–999999 using the OS entropy source.
func GenerateCode() string {
	n, err := rand.Int(rand.Reader, codeSpan)
	if err != nil {
		// Entropy failure is unrecoverable; see pkg/uuidv7 for the same stance.
		panic("validation: failed to generate code: " + err.Error())
	}

	return big.NewInt(0).Add(n, big.NewInt(100000)).String()
}

// NowSeconds returns the current integer Unix time in seconds.
func NowSeconds() int64 {
	return time.Now().Unix()
}
