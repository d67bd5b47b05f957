// Package saml implements C4: the SP-initiated SAML handshake, CA-backed
// response verification, and attribute-to-claim mapping.
package saml
