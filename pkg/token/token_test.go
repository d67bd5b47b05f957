package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/boris-cremit/nebula/pkg/types"
)

func newTestKeySet(t *testing.T, kid string) jwk.Set {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating rsa key: %v", err)
	}
	key, err := jwk.FromRaw(priv)
	if err != nil {
		t.Fatalf("jwk.FromRaw: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		t.Fatalf("setting kid: %v", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		t.Fatalf("setting alg: %v", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		t.Fatalf("AddKey: %v", err)
	}
	return set
}

func TestMintAndVerifyRoundTrip(t *testing.T) {
	keys := newTestKeySet(t, "kid-1")
	minter, err := NewMinter("https://nebula.example", time.Hour, keys, "")
	if err != nil {
		t.Fatalf("NewMinter: %v", err)
	}

	claim := types.NebulaClaim{
		Gid:           "machine-1",
		WorkspaceName: "default",
		Role:          types.RoleAdmin,
		Attributes:    map[string]string{"team": "platform"},
	}
	compact, err := minter.Mint(claim)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	pub, err := minter.JWKS()
	if err != nil {
		t.Fatalf("JWKS: %v", err)
	}

	got, err := Verify(context.Background(), compact, pub)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Gid != claim.Gid || got.WorkspaceName != claim.WorkspaceName || got.Role != claim.Role {
		t.Fatalf("round-tripped claim = %+v, want %+v", got, claim)
	}
	if got.Attributes["team"] != "platform" {
		t.Fatalf("attributes lost in round trip: %+v", got.Attributes)
	}
}

func TestVerifyRejectsTokenFromOtherKeySet(t *testing.T) {
	keys := newTestKeySet(t, "kid-1")
	minter, err := NewMinter("https://nebula.example", time.Hour, keys, "")
	if err != nil {
		t.Fatalf("NewMinter: %v", err)
	}

	compact, err := minter.Mint(types.NebulaClaim{Gid: "machine-1", Role: types.RoleMember})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	otherKeys := newTestKeySet(t, "kid-1")
	pub, err := NewMinter("https://nebula.example", time.Hour, otherKeys, "")
	if err != nil {
		t.Fatalf("NewMinter for other keys: %v", err)
	}
	otherPub, err := pub.JWKS()
	if err != nil {
		t.Fatalf("JWKS: %v", err)
	}

	if _, err := Verify(context.Background(), compact, otherPub); err == nil {
		t.Fatal("expected verification against a mismatched key set to fail")
	}
}
