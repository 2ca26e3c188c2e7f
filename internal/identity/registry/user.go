// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

// Package registry implements the durable, shared store of account records —
// the single source of truth for identity data.
//
// # Architecture
//
// Records live as one JSON document in the keyval store. The registry is the
// only writer of [UserRecord] data; the authentication adapters own session
// and verification state separately and consume records read-only.
package registry

import (
	"github.com/publichealth/identity/internal/platform/sec"
)

// CredentialScheme names how an account's credential material is stored.
type CredentialScheme string

const (
	// SchemeBcrypt marks a locally managed password, stored as a bcrypt hash.
	SchemeBcrypt CredentialScheme = "bcrypt"

	// SchemeExternal marks an account authenticated by the remote identity
	// provider. There is no local secret; password checks always fail.
	SchemeExternal CredentialScheme = "external"
)

// Credential is the typed credential material of one account.
//
// # Why a type and not a string?
//
// The stored value is either a bcrypt hash or the external sentinel — never
// plaintext, and never an ambiguous magic string like "oauth".
type Credential struct {
	Scheme CredentialScheme `json:"scheme"`
	Hash   string           `json:"hash,omitempty"`
}

// BcryptCredential wraps an already-computed bcrypt hash.
func BcryptCredential(hash string) Credential {
	return Credential{Scheme: SchemeBcrypt, Hash: hash}
}

// ExternalCredential returns the sentinel for provider-authenticated accounts.
func ExternalCredential() Credential {
	return Credential{Scheme: SchemeExternal}
}

// IsZero reports whether the credential is unset.
func (c Credential) IsZero() bool {
	return c.Scheme == "" && c.Hash == ""
}

// Matches verifies a plain-text password against the credential.
// External credentials never match a password.
func (c Credential) Matches(plainTextPassword string) bool {
	if c.Scheme != SchemeBcrypt || c.Hash == "" {
		return false
	}
	return sec.CheckPasswordHash(plainTextPassword, c.Hash)
}

// UserRecord is the identity of one account.
//
// # Rules
//   - Email is normalized (trimmed, lower-cased) and unique.
//   - ID is assigned at creation and never reassigned.
//   - Credential is present and non-empty on every stored record.
//   - Disabled accounts may not establish a session.
type UserRecord struct {
	ID               string           `json:"id"`
	Email            string           `json:"email"`
	Name             string           `json:"name"`
	Role             sec.UserRole     `json:"role"`
	Credential       Credential       `json:"credential"`
	Disabled         bool             `json:"disabled"`
	Verified         bool             `json:"verified"`
	TwoFactorEnabled bool             `json:"two_factor_enabled"`
	Phone            string           `json:"phone,omitempty"`
}

// UserPatch is a partial update merged over an existing record by
// [Registry.Upsert]. Nil fields are left untouched on the stored record —
// notably the credential, so a profile patch can never erase a password.
type UserPatch struct {
	// Email is the merge key. Required; normalized before lookup.
	Email string

	// ID is honored only at creation time; existing records keep theirs.
	ID string

	Name             *string
	Role             *sec.UserRole
	Credential       *Credential
	Disabled         *bool
	Verified         *bool
	TwoFactorEnabled *bool
	Phone            *string
}

// # Pointer shorthands

// String returns a pointer to s, for building patches inline.
func String(s string) *string { return &s }

// Bool returns a pointer to b, for building patches inline.
func Bool(b bool) *bool { return &b }

// Role returns a pointer to r, for building patches inline.
func Role(r sec.UserRole) *sec.UserRole { return &r }

// Cred returns a pointer to c, for building patches inline.
func Cred(c Credential) *Credential { return &c }
