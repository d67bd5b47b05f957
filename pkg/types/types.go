package types

import "time"

// NebulaClaim is the authenticated principal carried with every request,
// produced by the SAML connector on a successful handshake, built by the
// machine-identity issuance handler, or reconstructed from a validated
// token by the token service. Immutable after construction.
type NebulaClaim struct {
	Gid           string
	WorkspaceName string
	Role          Role
	Attributes    map[string]string
}

// HasAttribute reports whether the claim carries the given attribute with
// the given value.
func (c NebulaClaim) HasAttribute(name, value string) bool {
	v, ok := c.Attributes[name]
	return ok && v == value
}

// Role is the claim's access level within its workspace.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Workspace is the tenant root. A workspace either backs a dedicated schema
// (static mode) or is materialized on first access (dynamic mode).
type Workspace struct {
	ID           string // ULID
	Name         string // matches /^[a-z][a-z0-9_]{0,62}$/
	Deleted      bool
	MasterSecret []byte // serialized Gt element, the workspace's ABE master secret
}

// Path is a hierarchical namespace node that groups secrets and carries
// inherited access policies.
type Path struct {
	ID              string // ULID
	Path             string // absolute, "/"-separated, no trailing slash except root "/"
	AppliedPolicies  []AppliedPolicy
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AppliedPolicy binds a Path or SecretMetadata to a Policy. Created/removed
// atomically with the owning aggregate; never updated in place.
type AppliedPolicy struct {
	PolicyID string // ULID
}

// Policy is a named boolean expression over claim attributes ("human
// policy" grammar). Mutations are staged in-memory until Persist.
type Policy struct {
	ID         string // ULID
	Name       string
	Expression string

	updatedName       *string
	updatedExpression *string
	deleted           bool
}

// StageUpdateName stages a new name. A no-op when n equals the current or
// already-staged name, matching the idempotence invariant.
func (p *Policy) StageUpdateName(n string) {
	if n == p.Name || (p.updatedName != nil && *p.updatedName == n) {
		return
	}
	p.updatedName = &n
}

// StageUpdateExpression stages a new expression, same idempotence rule as
// StageUpdateName.
func (p *Policy) StageUpdateExpression(e string) {
	if e == p.Expression || (p.updatedExpression != nil && *p.updatedExpression == e) {
		return
	}
	p.updatedExpression = &e
}

// StageDelete marks the aggregate for deletion on persist.
func (p *Policy) StageDelete() { p.deleted = true }

// IsDeleted reports whether StageDelete has been called.
func (p *Policy) IsDeleted() bool { return p.deleted }

// StagedName returns the staged name and whether one is staged.
func (p *Policy) StagedName() (string, bool) {
	if p.updatedName == nil {
		return "", false
	}
	return *p.updatedName, true
}

// StagedExpression returns the staged expression and whether one is staged.
func (p *Policy) StagedExpression() (string, bool) {
	if p.updatedExpression == nil {
		return "", false
	}
	return *p.updatedExpression, true
}

// SecretMetadata is the key-addressed secret record. Path must reference an
// existing Path row.
type SecretMetadata struct {
	ID              string // ULID
	Key             string
	Path            string
	AppliedPolicies []AppliedPolicy
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SecretValue is the encrypted payload. Cipher is the AES-256-GCM output of
// pkg/security's Sealer, keyed from the workspace's pairing.Gt master
// secret; it is not an attribute-based ciphertext. It is treated as opaque
// once sealed.
type SecretValue struct {
	ID         string // ULID
	Identifier string // globally unique within workspace
	Cipher     []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Parameter is an unencrypted, path-addressed key/value record used for
// workspace configuration that does not need confidentiality.
type Parameter struct {
	ID        string // ULID
	Key       string
	Value     string
	Path      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MachineIdentity records a single machine-identity issuance in a
// workspace schema. Append-only, no state machine.
type MachineIdentity struct {
	ID        string // ULID
	Gid       string
	IssuedAt  time.Time
}
