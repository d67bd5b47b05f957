// Package token implements C3: minting NebulaClaim-bearing JWTs and
// publishing the public JWK set used to verify them.
package token
