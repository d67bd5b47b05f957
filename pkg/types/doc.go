/*
Package types defines the core data structures shared across the secrets and
policy authority: the authenticated claim, the tenant workspace, the
hierarchical path tree, policies, and the secret/parameter aggregates that
hang off it.

# Core Types

Identity:
  - NebulaClaim: the authenticated principal (gid, workspace, role, attributes)
  - Role: Member or Admin

Tenancy:
  - Workspace: tenant root, name-unique, static or dynamically materialized

Namespace:
  - Path: hierarchical node addressed by an absolute "/"-separated string
  - AppliedPolicy: binds a Path or SecretMetadata to a Policy

Access control:
  - Policy: named boolean expression over claim attributes, with staged
    mutations (StageUpdateName/StageUpdateExpression/StageDelete) applied on
    persist — see pkg/policy.

Secrets:
  - SecretMetadata: key-addressed record pointing at a Path
  - SecretValue: opaque AES-GCM payload sealed by pkg/secret through
    pkg/security, keyed from the pkg/pairing master secret
  - Parameter: unencrypted path-addressed key/value record
  - MachineIdentity: append-only machine-identity issuance record

# Thread Safety

Instances are loaded, mutated, and persisted within a single scoped
transaction (pkg/dbscope) owned exclusively by one use-case invocation; no
type here is safe for concurrent mutation.
*/
package types
