/*
Package security provides at-rest encryption for sealed secret payloads.

Sealer wraps AES-256-GCM around a 32-byte key, either supplied directly or
derived from a workspace's ABE master secret (a pairing.Gt element). The
pairing layer (pkg/pairing) produces the opaque key material; this package
never inspects plaintext beyond encrypting/decrypting it.

X.509 certificate handling (IdP CA verification) lives in pkg/saml, which
only needs to verify a signed SAML response against a configured CA rather
than issue certificates of its own.
*/
package security
