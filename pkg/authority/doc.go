// Package authority implements C10: workspace creation and
// machine-identity issuance backed by C3's token minting.
package authority
