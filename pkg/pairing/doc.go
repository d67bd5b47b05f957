// Package pairing models the BN462 algebraic contract: see pairing.go for
// the rationale behind building F/G1/G2/Gt on math/big rather than a
// concrete curve library.
package pairing
