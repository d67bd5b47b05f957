// Package saml drives the SP-initiated SAML handshake: begin_auth issues
// an AuthnRequest bound to an opaque state, complete_auth validates the
// IdP's response against a configured CA and maps its attributes into a
// NebulaClaim.
package saml

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	crewjamsaml "github.com/crewjam/saml"

	"github.com/boris-cremit/nebula/pkg/apperr"
	"github.com/boris-cremit/nebula/pkg/types"
)

// AttributeMapping names which SAML assertion attributes populate a
// NebulaClaim's gid and workspace_name; every other assertion attribute is
// carried through verbatim into NebulaClaim.Attributes.
type AttributeMapping struct {
	Gid           string
	WorkspaceName string
}

// AdminRolePredicate marks a claim Admin when the named assertion
// attribute carries the given value.
type AdminRolePredicate struct {
	Attribute string
	Value     string
}

// Connector drives one IdP's SP-initiated handshake. Pending AuthnRequest
// IDs are tracked in-process, keyed by the opaque state returned from
// BeginAuth, so CompleteAuth can check InResponseTo without a session
// store.
type Connector struct {
	sp         crewjamsaml.ServiceProvider
	attributes AttributeMapping
	adminRole  AdminRolePredicate

	mu      sync.Mutex
	pending map[string]string // state -> AuthnRequest ID
}

// Config carries everything needed to drive one IdP's handshake.
type Config struct {
	EntityID    string
	AcsURL      string
	SSOURL      string
	IdPIssuer   string
	CAPEM       string
	Attributes  AttributeMapping
	AdminRole   AdminRolePredicate
}

// New parses the configured CA certificate and builds a Connector against
// a synthetic IdP metadata descriptor carrying just that certificate and
// SSO endpoint, since Nebula is configured with a raw CA rather than a
// full IdP metadata document.
func New(cfg Config) (*Connector, error) {
	cert, err := parseCACert(cfg.CAPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing SAML CA certificate: %w", err)
	}

	acsURL, err := url.Parse(cfg.AcsURL)
	if err != nil {
		return nil, fmt.Errorf("parsing acs url: %w", err)
	}

	idpMetadata := &crewjamsaml.EntityDescriptor{
		EntityID: cfg.IdPIssuer,
		IDPSSODescriptors: []crewjamsaml.IDPSSODescriptor{
			{
				SSODescriptor: crewjamsaml.SSODescriptor{
					RoleDescriptor: crewjamsaml.RoleDescriptor{
						KeyDescriptors: []crewjamsaml.KeyDescriptor{
							{
								Use: "signing",
								KeyInfo: crewjamsaml.KeyInfo{
									X509Data: crewjamsaml.X509Data{
										X509Certificates: []crewjamsaml.X509Certificate{
											{Data: base64.StdEncoding.EncodeToString(cert.Raw)},
										},
									},
								},
							},
						},
					},
				},
				SingleSignOnServices: []crewjamsaml.Endpoint{
					{Binding: crewjamsaml.HTTPRedirectBinding, Location: cfg.SSOURL},
				},
			},
		},
	}

	sp := crewjamsaml.ServiceProvider{
		EntityID:    cfg.EntityID,
		AcsURL:      *acsURL,
		IDPMetadata: idpMetadata,
	}

	return &Connector{
		sp:         sp,
		attributes: cfg.Attributes,
		adminRole:  cfg.AdminRole,
		pending:    make(map[string]string),
	}, nil
}

// BeginAuth produces a redirect URL to the IdP's SSO endpoint and an
// opaque state string the caller must round-trip back through
// CompleteAuth.
func (c *Connector) BeginAuth() (redirectURL, state string, err error) {
	authReq, err := c.sp.MakeAuthenticationRequest(c.sp.GetSSOBindingLocation(crewjamsaml.HTTPRedirectBinding), crewjamsaml.HTTPRedirectBinding, crewjamsaml.HTTPPostBinding)
	if err != nil {
		return "", "", apperr.Anyhow(fmt.Errorf("building authn request: %w", err))
	}

	state = authReq.ID
	redirect, err := authReq.Redirect(state, &c.sp)
	if err != nil {
		return "", "", apperr.Anyhow(fmt.Errorf("building redirect: %w", err))
	}

	c.mu.Lock()
	c.pending[state] = authReq.ID
	c.mu.Unlock()

	return redirect.String(), state, nil
}

// CompleteAuth validates the posted SAMLResponse against the CA and the
// pending request for state, then maps the assertion's attributes into a
// NebulaClaim.
func (c *Connector) CompleteAuth(samlResponse, state string) (types.NebulaClaim, error) {
	c.mu.Lock()
	requestID, ok := c.pending[state]
	if ok {
		delete(c.pending, state)
	}
	c.mu.Unlock()
	if !ok {
		return types.NebulaClaim{}, apperr.New(apperr.KindStateMismatch, "no pending authn request for state").WithField("state", state)
	}

	form := url.Values{"SAMLResponse": {samlResponse}}
	req := &http.Request{Method: http.MethodPost, Form: form, PostForm: form}

	assertion, err := c.sp.ParseResponse(req, []string{requestID})
	if err != nil {
		return types.NebulaClaim{}, classifyParseError(err)
	}

	return c.claimFromAssertion(assertion)
}

func (c *Connector) claimFromAssertion(assertion *crewjamsaml.Assertion) (types.NebulaClaim, error) {
	attrs := map[string]string{}
	for _, stmt := range assertion.AttributeStatements {
		for _, attr := range stmt.Attributes {
			if len(attr.Values) == 0 {
				continue
			}
			attrs[attr.Name] = attr.Values[0].Value
		}
	}

	gid, ok := attrs[c.attributes.Gid]
	if !ok || gid == "" {
		return types.NebulaClaim{}, apperr.New(apperr.KindAttributeMissing, "assertion missing gid attribute").WithField("name", c.attributes.Gid)
	}

	workspaceName := attrs[c.attributes.WorkspaceName]

	role := types.RoleMember
	if c.adminRole.Attribute != "" && attrs[c.adminRole.Attribute] == c.adminRole.Value {
		role = types.RoleAdmin
	}

	return types.NebulaClaim{
		Gid:           gid,
		WorkspaceName: workspaceName,
		Role:          role,
		Attributes:    attrs,
	}, nil
}

// classifyParseError maps crewjam/saml's untyped ParseResponse failures
// onto the two response-validation kinds the handshake distinguishes.
// crewjam/saml does not expose a typed reason, so this inspects the
// error text; anything not recognizably a staleness complaint is treated
// as a signature failure, the stricter default.
func classifyParseError(err error) *apperr.Error {
	if strings.Contains(strings.ToLower(err.Error()), "expired") {
		return apperr.New(apperr.KindExpired, err.Error())
	}
	return apperr.New(apperr.KindInvalidSignature, err.Error())
}

func parseCACert(pemStr string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in CA certificate")
	}
	return x509.ParseCertificate(block.Bytes)
}
