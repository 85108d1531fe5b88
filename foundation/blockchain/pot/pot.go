// Package pot implements the Proof-of-Transaction consensus arithmetic: base
// target retargeting, generation signatures, the per-forger random hit and the
// cumulative difficulty used for fork choice.
//
// All functions are pure. Every participant must compute bit-identical results
// so the arithmetic is done on math/big values, except for RandomHit which is
// specified in terms of IEEE-754 double precision.
package pot

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
)

// Consensus constants.
var (
	// GenesisBaseTarget is the base target of the first blocks of the chain.
	GenesisBaseTarget = new(big.Int).SetUint64(0x0369D0369D036978)

	// HitCoefficient scales the random hit (2^59).
	HitCoefficient = new(big.Int).Lsh(big.NewInt(1), 59)

	// difficultyNumerator is the numerator of a block's difficulty (2^64).
	difficultyNumerator = new(big.Int).Lsh(big.NewInt(1), 64)
)

// Retargeting constants.
const (
	// TargetBlockTime is the desired average time between blocks in seconds.
	TargetBlockTime = 300

	// MaxRatio and MinRatio bound the average interval used to retarget.
	MaxRatio = 335
	MinRatio = 265

	// bootstrapBlocks is the number of leading blocks that always use the
	// genesis base target.
	bootstrapBlocks = 3

	tightenDivisor = 1875

	// hitReference is the value whose squared log centers the hit (2^32).
	hitReference = 4294967296.0
)

// Set of error variables for consensus arithmetic.
var (
	ErrNonPositiveTarget = errors.New("computed base target is not positive")
	ErrInvalidBaseTarget = errors.New("base target must be positive")
	ErrNoForgingPower    = errors.New("forging power must be positive")
)

// =============================================================================

// BlockInfo is the subset of a block the retargeting rule needs.
type BlockInfo struct {
	Number     uint64
	Timestamp  uint32
	BaseTarget *big.Int
}

// ChainReader resolves ancestors of the block being retargeted by height.
type ChainReader interface {
	BlockInfoByNumber(number uint64) (BlockInfo, error)
}

// RequiredBaseTarget computes the base target for the child of parent.
//
// Parents at heights up to bootstrapBlocks return the genesis base target.
// Otherwise the base target of the parent's parent (block2) is eased or
// tightened depending on how the average interval measured from block3, the
// grandparent, compares with TargetBlockTime.
func RequiredBaseTarget(parent BlockInfo, chain ChainReader) (*big.Int, error) {
	if parent.Number <= bootstrapBlocks {
		return new(big.Int).Set(GenesisBaseTarget), nil
	}

	block2, err := chain.BlockInfoByNumber(parent.Number - 1)
	if err != nil {
		return nil, fmt.Errorf("retarget: resolve block %d: %w", parent.Number-1, err)
	}

	block3, err := chain.BlockInfoByNumber(parent.Number - 2)
	if err != nil {
		return nil, fmt.Errorf("retarget: resolve block %d: %w", parent.Number-2, err)
	}

	bt := block2.BaseTarget
	if bt == nil || bt.Sign() <= 0 {
		return nil, fmt.Errorf("retarget: block %d: %w", block2.Number, ErrInvalidBaseTarget)
	}

	// The interval is measured from block3 to the parent, so on a chain with
	// increasing timestamps it clamps to zero.
	elapsed := max(int64(block3.Timestamp)-int64(parent.Timestamp), 0)
	avg := elapsed / 3

	next := new(big.Int)

	switch {
	case avg > TargetBlockTime:
		ratio := min(avg, MaxRatio)
		next.Mul(bt, big.NewInt(ratio))
		next.Quo(next, big.NewInt(TargetBlockTime))

	default:
		clamped := max(avg, MinRatio)
		delta := new(big.Int).Quo(bt, big.NewInt(tightenDivisor))
		delta.Mul(delta, big.NewInt(TargetBlockTime-clamped))
		delta.Mul(delta, big.NewInt(4))

		next.Sub(bt, delta)
	}

	if next.Sign() <= 0 {
		return nil, ErrNonPositiveTarget
	}

	return next, nil
}

// NextGenerationSignature chains a new generation signature from the previous
// one and the generator's compressed public key.
func NextGenerationSignature(prev [32]byte, pubKey []byte) [32]byte {
	data := make([]byte, 0, len(prev)+len(pubKey))
	data = append(data, prev[:]...)
	data = append(data, pubKey...)

	return sha256.Sum256(data)
}

// MinerTargetValue returns baseTarget * forgingPower * elapsed.
func MinerTargetValue(baseTarget *big.Int, forgingPower uint64, elapsed uint64) *big.Int {
	v := new(big.Int).Mul(baseTarget, new(big.Int).SetUint64(forgingPower))
	return v.Mul(v, new(big.Int).SetUint64(elapsed))
}

// RandomHit derives the forger's hit from its generation signature.
//
// The first eight bytes are read as a signed big endian integer b. The hit is
// HitCoefficient * long(|ln(b+1) - 2*ln(2^32)| * 1000) / 1000 where long()
// truncates toward zero, maps NaN to zero and saturates at the int64 range.
func RandomHit(genSig [32]byte) *big.Int {
	bhit := int64(binary.BigEndian.Uint64(genSig[:8]))

	b1 := new(big.Int).Add(big.NewInt(bhit), big.NewInt(1))
	f, _ := new(big.Float).SetInt(b1).Float64()

	// The explicit conversions round each step and keep the compiler from
	// fusing the multiply with the subtraction.
	ref := float64(2 * math.Log(hitReference))
	diff := float64(math.Log(f) - ref)
	scaled := toLong(float64(math.Abs(diff) * 1000))

	hit := new(big.Int).Mul(HitCoefficient, big.NewInt(scaled))
	return hit.Quo(hit, big.NewInt(1000))
}

// CumulativeDifficulty adds the difficulty of a block with the given base
// target, 2^64 / baseTarget, to the parent's cumulative difficulty.
func CumulativeDifficulty(prev *big.Int, baseTarget *big.Int) (*big.Int, error) {
	if baseTarget == nil || baseTarget.Sign() <= 0 {
		return nil, ErrInvalidBaseTarget
	}

	d := new(big.Int).Quo(difficultyNumerator, baseTarget)
	if prev == nil {
		return d, nil
	}

	return d.Add(d, prev), nil
}

// ForgingTimeInterval returns hit / baseTarget / forgingPower + 1, the
// smallest number of seconds after the parent at which the forger becomes
// eligible. Results beyond uint64 saturate.
func ForgingTimeInterval(hit *big.Int, baseTarget *big.Int, forgingPower uint64) (uint64, error) {
	if baseTarget == nil || baseTarget.Sign() <= 0 {
		return 0, ErrInvalidBaseTarget
	}

	if forgingPower == 0 {
		return 0, ErrNoForgingPower
	}

	v := new(big.Int).Quo(hit, baseTarget)
	v.Quo(v, new(big.Int).SetUint64(forgingPower))
	v.Add(v, big.NewInt(1))

	if !v.IsUint64() {
		return math.MaxUint64, nil
	}

	return v.Uint64(), nil
}

// Eligible reports whether a forger's target value exceeds its hit after
// elapsed seconds.
func Eligible(hit *big.Int, baseTarget *big.Int, forgingPower uint64, elapsed uint64) bool {
	return MinerTargetValue(baseTarget, forgingPower, elapsed).Cmp(hit) > 0
}

// =============================================================================

// toLong narrows a double the way a JVM (long) cast does.
func toLong(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= float64(1<<63):
		return math.MaxInt64
	case f <= -float64(1<<63):
		return math.MinInt64
	}

	return int64(f)
}
