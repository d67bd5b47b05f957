// Package jwks resolves C2's jwks_discovery capability: Static and
// CachedRemote variants over a JWK set used to verify tokens.
package jwks
