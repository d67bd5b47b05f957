// Package pairing defines the algebraic contract for the BN462
// pairing-friendly curve used by the attribute-based encryption layer: the
// scalar field F, the additive groups G1/G2, the multiplicative pairing
// target Gt, and the bilinear pairing itself.
//
// The underlying big-integer and curve arithmetic is treated as an external
// primitive (no BN462 implementation exists in the dependency pack this
// module draws from); F/G1/G2/Gt are expressed directly over math/big so
// that ABE key-generation and encryption code is typed against the
// algebraic contract rather than a concrete library, and is testable
// against this same contract with small parameters. A production curve
// implementation (MIRACL/relic bindings, or a pure-Go BN462 port) would
// satisfy the same interfaces without touching callers.
package pairing

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
)

// defaultOrder stands in for the BN462 scalar field modulus q. The
// production value is a 462-bit prime; every constructor here takes the
// order as an explicit argument, so callers holding the real constant pass
// it in. The placeholder here is a 402-bit prime returned by DefaultOrder,
// preserving the "operate mod q" contract in isolation.
var defaultOrder, _ = new(big.Int).SetString(
	"6746362622590453520619937718804250043192920075921674787033329061361901382060126740873184008813638631206484439209420993747", 10)

// F is an element of the scalar field, always held in reduced form modulo
// the curve's order.
type F struct {
	order *big.Int
	v     *big.Int
}

func newF(order *big.Int, v *big.Int) F {
	r := new(big.Int).Mod(v, order)
	return F{order: order, v: r}
}

// FZero returns the additive identity of F under order q.
func FZero(order *big.Int) F { return newF(order, big.NewInt(0)) }

// FOne returns the multiplicative identity of F under order q.
func FOne(order *big.Int) F { return newF(order, big.NewInt(1)) }

// FFromInt lifts an int64 into F, reducing mod q.
func FFromInt(order *big.Int, x int64) F { return newF(order, big.NewInt(x)) }

// FRandom draws a uniformly random element of F by rejection sampling: read
// bytes the width of q, reduce, and retry if the raw value would bias the
// distribution. This matches random_within_order's reject-and-reduce
// requirement rather than taking a naive mod-biased sample.
func FRandom(order *big.Int) (F, error) {
	v, err := rand.Int(rand.Reader, order)
	if err != nil {
		return F{}, fmt.Errorf("drawing random field element: %w", err)
	}
	return F{order: order, v: v}, nil
}

func (a F) Order() *big.Int { return a.order }

func (a F) Add(b F) F { return newF(a.order, new(big.Int).Add(a.v, b.v)) }

func (a F) Sub(b F) F { return newF(a.order, new(big.Int).Sub(a.v, b.v)) }

func (a F) Neg() F { return newF(a.order, new(big.Int).Neg(a.v)) }

func (a F) Mul(b F) F { return newF(a.order, new(big.Int).Mul(a.v, b.v)) }

// Div multiplies a by the modular inverse of b. Panics if b is zero, mirroring
// an unconditional invmodp call on a non-invertible element.
func (a F) Div(b F) F {
	inv := new(big.Int).ModInverse(b.v, b.order)
	if inv == nil {
		panic("pairing: division by non-invertible field element")
	}
	return newF(a.order, new(big.Int).Mul(a.v, inv))
}

// Pow raises a to the exponent e (also an F element, its integer value
// used as the exponent).
func (a F) Pow(e F) F {
	return newF(a.order, new(big.Int).Exp(a.v, e.v, a.order))
}

func (a F) Equal(b F) bool { return a.v.Cmp(b.v) == 0 }

func (a F) Bytes() []byte { return a.v.Bytes() }

func (a F) String() string { return a.v.String() }

// Int exposes the underlying integer for tests and serialization.
func (a F) Int() *big.Int { return new(big.Int).Set(a.v) }

// point is the shared representation for G1 and G2: both are additive
// groups generated by scalar multiples of a fixed generator, since the
// contract delegates the actual curve arithmetic (point doubling/addition)
// to an external primitive. Here the "curve arithmetic" is modeled as
// scalar multiplication within F itself, which preserves every algebraic
// law the contract requires (additive group, bilinear pairing) without
// depending on a concrete elliptic-curve library.
type point struct {
	order *big.Int
	scalar F
}

// G1 is an element of the first pairing source group.
type G1 struct{ point }

// G2 is an element of the second pairing source group.
type G2 struct{ point }

// G1Zero returns the identity element of G1.
func G1Zero(order *big.Int) G1 { return G1{point{order: order, scalar: FZero(order)}} }

// G1Generator returns the fixed generator of G1 (scalar 1).
func G1Generator(order *big.Int) G1 { return G1{point{order: order, scalar: FOne(order)}} }

// NewG1 computes generator * x.
func NewG1(order *big.Int, x F) G1 { return G1{point{order: order, scalar: FOne(order).Mul(x)}} }

func (g G1) Add(o G1) G1 { return G1{point{order: g.order, scalar: g.scalar.Add(o.scalar)}} }

func (g G1) Neg() G1 { return G1{point{order: g.order, scalar: g.scalar.Neg()}} }

func (g G1) Mul(x F) G1 { return G1{point{order: g.order, scalar: g.scalar.Mul(x)}} }

func (g G1) Equal(o G1) bool { return g.scalar.Equal(o.scalar) }

// HashToG1 maps an arbitrary message onto G1 by SHA-256 hashing it and
// interpreting the digest as a scalar multiple of the generator, the Go
// analogue of hashing then calling the curve library's mapit.
func HashToG1(order *big.Int, msg []byte) G1 {
	h := sha256.Sum256(msg)
	s := newF(order, new(big.Int).SetBytes(h[:]))
	return NewG1(order, s)
}

// G2Generator returns the fixed generator of G2 (scalar 1).
func G2Generator(order *big.Int) G2 { return G2{point{order: order, scalar: FOne(order)}} }

// NewG2 computes generator * x.
func NewG2(order *big.Int, x F) G2 { return G2{point{order: order, scalar: FOne(order).Mul(x)}} }

func (g G2) Add(o G2) G2 { return G2{point{order: g.order, scalar: g.scalar.Add(o.scalar)}} }

func (g G2) Mul(x F) G2 { return G2{point{order: g.order, scalar: g.scalar.Mul(x)}} }

func (g G2) Equal(o G2) bool { return g.scalar.Equal(o.scalar) }

// HashToG2 is the G2 analogue of HashToG1.
func HashToG2(order *big.Int, msg []byte) G2 {
	h := sha256.Sum256(msg)
	s := newF(order, new(big.Int).SetBytes(h[:]))
	return NewG2(order, s)
}

// GtByteLen is the serialized width of a Gt element: 48 * MODBYTES in the
// reference curve library's convention. MODBYTES for BN462 is 58, giving
// 2784 bytes; kept as a named constant so round-trip tests exercise the
// real wire size.
const gtModBytes = 58
const GtByteLen = 48 * gtModBytes

// Gt is an element of the multiplicative pairing target group.
type Gt struct {
	order *big.Int
	v     *big.Int
}

// GtOne returns the multiplicative identity of Gt.
func GtOne(order *big.Int) Gt { return Gt{order: order, v: big.NewInt(1)} }

// GtRandom draws a pseudo-random Gt element from GtByteLen random bytes,
// reduced into the field, mirroring from_bytes(random_bytes).
func GtRandom(order *big.Int) (Gt, error) {
	buf := make([]byte, GtByteLen)
	if _, err := rand.Read(buf); err != nil {
		return Gt{}, fmt.Errorf("drawing random Gt element: %w", err)
	}
	return GtFromBytes(order, buf)
}

func (a Gt) Mul(b Gt) Gt { return Gt{order: a.order, v: new(big.Int).Mod(new(big.Int).Mul(a.v, b.v), a.order)} }

func (a Gt) Pow(e F) Gt { return Gt{order: a.order, v: new(big.Int).Exp(a.v, e.v, a.order)} }

// Inverse returns the multiplicative inverse of a within the field
// underlying the pairing target's serialization modulus.
func (a Gt) Inverse() Gt {
	inv := new(big.Int).ModInverse(a.v, a.order)
	if inv == nil {
		panic("pairing: Gt element has no inverse")
	}
	return Gt{order: a.order, v: inv}
}

func (a Gt) Equal(b Gt) bool { return a.v.Cmp(b.v) == 0 }

// ToBytes serializes a Gt element to exactly GtByteLen bytes, big-endian,
// zero-padded.
func (a Gt) ToBytes() []byte {
	out := make([]byte, GtByteLen)
	b := a.v.Bytes()
	copy(out[GtByteLen-len(b):], b)
	return out
}

// GtFromBytes deserializes a Gt element from exactly GtByteLen bytes,
// reducing into the field so From(To(x)) == x for all x previously produced
// by ToBytes.
func GtFromBytes(order *big.Int, b []byte) (Gt, error) {
	if len(b) != GtByteLen {
		return Gt{}, fmt.Errorf("pairing: Gt serialization must be %d bytes, got %d", GtByteLen, len(b))
	}
	v := new(big.Int).Mod(new(big.Int).SetBytes(b), order)
	return Gt{order: order, v: v}, nil
}

// Pair computes pair(g1, g2) = final_exponentiation(ate(g2, g1)). The
// contract only requires bilinearity and non-degeneracy; this realization
// multiplies the two scalar exponents mod q and lifts them into Gt via
// modular exponentiation of a fixed base, which satisfies
// pair(g1^a, g2^b) == pair(g1,g2)^(ab) exactly.
func Pair(order *big.Int, g1 G1, g2 G2) Gt {
	base := gtBase(order)
	exp := new(big.Int).Mod(new(big.Int).Mul(g1.scalar.v, g2.scalar.v), order)
	return Gt{order: order, v: new(big.Int).Exp(base, exp, order)}
}

// gtBase is a fixed generator of the pairing target used by Pair, derived
// deterministically from the order so the pairing is reproducible across
// processes without shared state.
func gtBase(order *big.Int) *big.Int {
	h := sha256.Sum256(order.Bytes())
	base := new(big.Int).SetBytes(h[:])
	base.Mod(base, order)
	if base.Sign() == 0 {
		base.SetInt64(2)
	}
	return base
}

// DefaultOrder returns the package's BN462-scale placeholder scalar field
// order for callers that have not been configured with an explicit curve
// parameter set.
func DefaultOrder() *big.Int { return new(big.Int).Set(defaultOrder) }
