// Package secret implements the Secret aggregate (C9): identifier-keyed
// encrypted values bound to a path, with union-of-ancestor-policies read
// authorization and path-policy-gated writes.
package secret
