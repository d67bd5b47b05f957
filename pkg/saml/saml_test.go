package saml

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	crewjamsaml "github.com/crewjam/saml"

	"github.com/boris-cremit/nebula/pkg/apperr"
	"github.com/boris-cremit/nebula/pkg/types"
)

func selfSignedCAPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-idp-ca"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating cert: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func TestNewParsesCACertAndBuildsConnector(t *testing.T) {
	c, err := New(Config{
		EntityID:  "https://nebula.example/saml/metadata",
		AcsURL:    "https://nebula.example/callback/saml",
		SSOURL:    "https://idp.example/sso",
		IdPIssuer: "https://idp.example",
		CAPEM:     selfSignedCAPEM(t),
		Attributes: AttributeMapping{
			Gid:           "uid",
			WorkspaceName: "workspace",
		},
		AdminRole: AdminRolePredicate{Attribute: "role", Value: "admin"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.sp.EntityID != "https://nebula.example/saml/metadata" {
		t.Fatalf("unexpected entity id: %s", c.sp.EntityID)
	}
}

func TestNewRejectsInvalidCAPem(t *testing.T) {
	_, err := New(Config{CAPEM: "not a pem"})
	if err == nil {
		t.Fatal("expected error parsing invalid CA PEM")
	}
}

func TestCompleteAuthRejectsUnknownState(t *testing.T) {
	c, err := New(Config{
		EntityID:  "https://nebula.example/saml/metadata",
		AcsURL:    "https://nebula.example/callback/saml",
		SSOURL:    "https://idp.example/sso",
		IdPIssuer: "https://idp.example",
		CAPEM:     selfSignedCAPEM(t),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.CompleteAuth("irrelevant", "never-issued-state")
	if !apperr.Is(err, apperr.KindStateMismatch) {
		t.Fatalf("expected StateMismatch, got %v", err)
	}
}

func TestClaimFromAssertionMapsAttributesAndAdminRole(t *testing.T) {
	c, err := New(Config{
		EntityID:  "https://nebula.example/saml/metadata",
		AcsURL:    "https://nebula.example/callback/saml",
		SSOURL:    "https://idp.example/sso",
		IdPIssuer: "https://idp.example",
		CAPEM:     selfSignedCAPEM(t),
		Attributes: AttributeMapping{
			Gid:           "uid",
			WorkspaceName: "workspace",
		},
		AdminRole: AdminRolePredicate{Attribute: "role", Value: "admin"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	assertion := &crewjamsaml.Assertion{
		AttributeStatements: []crewjamsaml.AttributeStatement{
			{
				Attributes: []crewjamsaml.Attribute{
					{Name: "uid", Values: []crewjamsaml.AttributeValue{{Value: "machine-1"}}},
					{Name: "workspace", Values: []crewjamsaml.AttributeValue{{Value: "default"}}},
					{Name: "role", Values: []crewjamsaml.AttributeValue{{Value: "admin"}}},
				},
			},
		},
	}

	claim, err := c.claimFromAssertion(assertion)
	if err != nil {
		t.Fatalf("claimFromAssertion: %v", err)
	}
	if claim.Gid != "machine-1" || claim.WorkspaceName != "default" {
		t.Fatalf("unexpected claim: %+v", claim)
	}
	if claim.Role != types.RoleAdmin {
		t.Fatalf("expected admin role, got %v", claim.Role)
	}
}

func TestClaimFromAssertionMissingGidFails(t *testing.T) {
	c, err := New(Config{
		EntityID:   "https://nebula.example/saml/metadata",
		AcsURL:     "https://nebula.example/callback/saml",
		SSOURL:     "https://idp.example/sso",
		IdPIssuer:  "https://idp.example",
		CAPEM:      selfSignedCAPEM(t),
		Attributes: AttributeMapping{Gid: "uid"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.claimFromAssertion(&crewjamsaml.Assertion{})
	if !apperr.Is(err, apperr.KindAttributeMissing) {
		t.Fatalf("expected AttributeMissing, got %v", err)
	}
}
