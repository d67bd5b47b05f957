// Package token mints and verifies the short-lived compact JWTs issued to
// machine identities, and exposes the public half of the signing keys as
// a JWK set for C2's discovery capability.
package token

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/boris-cremit/nebula/pkg/apperr"
	"github.com/boris-cremit/nebula/pkg/types"
)

const (
	claimWorkspace  = "workspace_name"
	claimRole       = "role"
	claimAttributes = "attributes"
)

// Minter signs NebulaClaim tokens with the active JWK and publishes the
// corresponding public set.
type Minter struct {
	issuer    string
	ttl       time.Duration
	keys      jwk.Set // private keys, one of which is "active"
	activeKid string
}

// NewMinter builds a Minter from a private JWK set and the key ID to sign
// with. An empty activeKid falls back to the set's only key when the set
// has exactly one entry; otherwise it is rejected. An empty set is always
// rejected: no default key set is generated.
func NewMinter(issuer string, ttl time.Duration, keys jwk.Set, activeKid string) (*Minter, error) {
	if activeKid == "" {
		if keys.Len() != 1 {
			return nil, fmt.Errorf("no active key id configured and key set has %d keys", keys.Len())
		}
		key, _ := keys.Key(0)
		activeKid = key.KeyID()
	}
	if _, ok := keys.LookupKeyID(activeKid); !ok {
		return nil, fmt.Errorf("active key id %q not present in key set", activeKid)
	}
	return &Minter{issuer: issuer, ttl: ttl, keys: keys, activeKid: activeKid}, nil
}

// Mint produces a compact, signed JWT encoding claim.
func (m *Minter) Mint(claim types.NebulaClaim) (string, error) {
	key, ok := m.keys.LookupKeyID(m.activeKid)
	if !ok {
		return "", apperr.Anyhow(fmt.Errorf("active signing key %q not found", m.activeKid))
	}

	now := time.Now()
	tok, err := jwt.NewBuilder().
		Issuer(m.issuer).
		Subject(claim.Gid).
		IssuedAt(now).
		Expiration(now.Add(m.ttl)).
		Claim(claimWorkspace, claim.WorkspaceName).
		Claim(claimRole, string(claim.Role)).
		Claim(claimAttributes, claim.Attributes).
		Build()
	if err != nil {
		return "", apperr.Anyhow(fmt.Errorf("building token: %w", err))
	}

	alg, ok := key.Algorithm()
	if !ok {
		alg = jwa.RS256
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(alg, key))
	if err != nil {
		return "", apperr.Anyhow(fmt.Errorf("signing token: %w", err))
	}
	return string(signed), nil
}

// JWKS returns the public half of the configured signing keys.
func (m *Minter) JWKS() (jwk.Set, error) {
	pub, err := jwk.PublicSetOf(m.keys)
	if err != nil {
		return nil, apperr.Anyhow(fmt.Errorf("deriving public jwk set: %w", err))
	}
	return pub, nil
}

// Verify parses and validates a compact JWT against the given public set,
// reconstructing the NebulaClaim it carries.
func Verify(ctx context.Context, compact string, keys jwk.Set) (types.NebulaClaim, error) {
	parsed, err := jwt.Parse([]byte(compact), jwt.WithKeySet(keys), jwt.WithValidate(true))
	if err != nil {
		return types.NebulaClaim{}, apperr.New(apperr.KindAccessDenied, "invalid or expired token")
	}

	claim := types.NebulaClaim{Gid: parsed.Subject()}

	if v, ok := parsed.Get(claimWorkspace); ok {
		if s, ok := v.(string); ok {
			claim.WorkspaceName = s
		}
	}
	if v, ok := parsed.Get(claimRole); ok {
		if s, ok := v.(string); ok {
			claim.Role = types.Role(s)
		}
	}
	claim.Attributes = map[string]string{}
	if v, ok := parsed.Get(claimAttributes); ok {
		if m, ok := v.(map[string]any); ok {
			for k, val := range m {
				if s, ok := val.(string); ok {
					claim.Attributes[k] = s
				}
			}
		}
	}

	return claim, nil
}
