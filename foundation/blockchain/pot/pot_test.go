package pot_test

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
	"testing"

	"github.com/taucoin/taunode/foundation/blockchain/pot"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// chain is a canonical chain keyed by height.
type chain map[uint64]pot.BlockInfo

func (c chain) BlockInfoByNumber(number uint64) (pot.BlockInfo, error) {
	bi, exists := c[number]
	if !exists {
		return pot.BlockInfo{}, fmt.Errorf("block %d not found", number)
	}
	return bi, nil
}

// =============================================================================

func Test_RequiredBaseTarget(t *testing.T) {
	type table struct {
		name     string
		parentTS uint32
		block3TS uint32
		block2BT int64
		exp      int64
	}

	tt := []table{
		{name: "increasing timestamps tighten fully", parentTS: 2000, block3TS: 1000, block2BT: 1_875_000, exp: 1_735_000},
		{name: "average under min ratio", parentTS: 1000, block3TS: 1600, block2BT: 1_875_000, exp: 1_735_000},
		{name: "average between ratios", parentTS: 1000, block3TS: 1870, block2BT: 1_875_000, exp: 1_835_000},
		{name: "average on schedule", parentTS: 1000, block3TS: 1900, block2BT: 1_875_000, exp: 1_875_000},
		{name: "average slow", parentTS: 1000, block3TS: 1960, block2BT: 1_875_000, exp: 2_000_000},
		{name: "average capped at max ratio", parentTS: 1000, block3TS: 4000, block2BT: 1_875_000, exp: 2_093_750},
	}

	t.Log("Given the need to retarget the base target from recent blocks.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				parent := pot.BlockInfo{Number: 10, Timestamp: tst.parentTS, BaseTarget: big.NewInt(1)}
				c := chain{
					9: {Number: 9, Timestamp: tst.parentTS - 1, BaseTarget: big.NewInt(tst.block2BT)},
					8: {Number: 8, Timestamp: tst.block3TS, BaseTarget: big.NewInt(1)},
				}

				bt, err := pot.RequiredBaseTarget(parent, c)
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to compute the base target: %v", failed, testID, err)
				}

				if bt.Cmp(big.NewInt(tst.exp)) != 0 {
					t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, bt)
					t.Logf("\t%s\tTest %d:\texp: %d", failed, testID, tst.exp)
					t.Fatalf("\t%s\tTest %d:\tShould get the expected base target.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould get the expected base target.", success, testID)
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_RequiredBaseTargetBootstrap(t *testing.T) {
	t.Log("Given the need to use the genesis base target for the first blocks.")
	{
		for number := uint64(0); number <= 3; number++ {
			parent := pot.BlockInfo{Number: number, Timestamp: 100, BaseTarget: big.NewInt(7)}

			bt, err := pot.RequiredBaseTarget(parent, chain{})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to compute the base target: %v", failed, number, err)
			}

			if bt.Cmp(pot.GenesisBaseTarget) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould get the genesis base target, got %s.", failed, number, bt)
			}
			t.Logf("\t%s\tTest %d:\tShould get the genesis base target.", success, number)
		}

		bt, _ := pot.RequiredBaseTarget(pot.BlockInfo{Number: 1}, chain{})
		bt.SetInt64(1)
		if pot.GenesisBaseTarget.Cmp(big.NewInt(1)) == 0 {
			t.Fatalf("\t%s\tShould not share the genesis base target value.", failed)
		}
		t.Logf("\t%s\tShould not share the genesis base target value.", success)
	}
}

func Test_RequiredBaseTargetErrors(t *testing.T) {
	t.Log("Given the need to reject retargeting without valid ancestors.")
	{
		parent := pot.BlockInfo{Number: 10, Timestamp: 100, BaseTarget: big.NewInt(1)}

		if _, err := pot.RequiredBaseTarget(parent, chain{}); err == nil {
			t.Fatalf("\t%s\tShould fail when ancestors are missing.", failed)
		}
		t.Logf("\t%s\tShould fail when ancestors are missing.", success)

		c := chain{
			9: {Number: 9, Timestamp: 90, BaseTarget: big.NewInt(0)},
			8: {Number: 8, Timestamp: 80, BaseTarget: big.NewInt(1)},
		}
		if _, err := pot.RequiredBaseTarget(parent, c); !errors.Is(err, pot.ErrInvalidBaseTarget) {
			t.Fatalf("\t%s\tShould fail on a zero base target: %v", failed, err)
		}
		t.Logf("\t%s\tShould fail on a zero base target.", success)
	}
}

func Test_EaseIsMonotonic(t *testing.T) {
	t.Log("Given the need to ease difficulty monotonically with the average interval.")
	{
		bt := big.NewInt(0x0369D0369D036978)
		prev := new(big.Int).Set(bt)

		for avg := int64(301); avg <= 400; avg++ {
			parent := pot.BlockInfo{Number: 20, Timestamp: 1000, BaseTarget: big.NewInt(1)}
			c := chain{
				19: {Number: 19, Timestamp: 999, BaseTarget: bt},
				18: {Number: 18, Timestamp: uint32(1000 + avg*3)},
			}

			next, err := pot.RequiredBaseTarget(parent, c)
			if err != nil {
				t.Fatalf("\t%s\tShould be able to compute the base target: %v", failed, err)
			}

			if next.Cmp(prev) < 0 {
				t.Fatalf("\t%s\tShould not decrease when avg grows: avg[%d] got[%s] prev[%s]", failed, avg, next, prev)
			}
			prev = next
		}
		t.Logf("\t%s\tShould not decrease when avg grows.", success)
	}
}

// =============================================================================

func Test_NextGenerationSignature(t *testing.T) {
	t.Log("Given the need to chain generation signatures.")
	{
		var prev [32]byte
		prev[0] = 0xaa
		pubKey := []byte{0x02, 0x01, 0x02, 0x03}

		exp := sha256.Sum256(append(prev[:], pubKey...))
		got := pot.NextGenerationSignature(prev, pubKey)

		if got != exp {
			t.Fatalf("\t%s\tShould hash the previous signature and the key once.", failed)
		}
		t.Logf("\t%s\tShould hash the previous signature and the key once.", success)
	}
}

func Test_RandomHit(t *testing.T) {
	type table struct {
		name   string
		bhit   uint64
		scaled int64
	}

	tt := []table{
		{name: "zero", bhit: 0, scaled: 44361},
		{name: "reference", bhit: 1<<32 - 1, scaled: 22180},
		{name: "max positive", bhit: math.MaxInt64, scaled: 693},
		{name: "minus one", bhit: math.MaxUint64, scaled: math.MaxInt64},
		{name: "negative", bhit: 1 << 63, scaled: 0},
	}

	t.Log("Given the need to derive the hit from a generation signature.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				var genSig [32]byte
				binary.BigEndian.PutUint64(genSig[:8], tst.bhit)
				genSig[31] = 0xff

				exp := new(big.Int).Mul(pot.HitCoefficient, big.NewInt(tst.scaled))
				exp.Quo(exp, big.NewInt(1000))

				got := pot.RandomHit(genSig)
				if got.Cmp(exp) != 0 {
					t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, got)
					t.Logf("\t%s\tTest %d:\texp: %s", failed, testID, exp)
					t.Fatalf("\t%s\tTest %d:\tShould get the expected hit.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould get the expected hit.", success, testID)
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_CumulativeDifficulty(t *testing.T) {
	t.Log("Given the need to accumulate chain difficulty.")
	{
		prev := big.NewInt(5)

		got, err := pot.CumulativeDifficulty(prev, new(big.Int).Lsh(big.NewInt(1), 32))
		if err != nil {
			t.Fatalf("\t%s\tShould be able to compute cumulative difficulty: %v", failed, err)
		}

		exp := new(big.Int).Add(big.NewInt(5), new(big.Int).Lsh(big.NewInt(1), 32))
		if got.Cmp(exp) != 0 {
			t.Fatalf("\t%s\tShould add 2^64/baseTarget: got %s exp %s", failed, got, exp)
		}
		t.Logf("\t%s\tShould add 2^64/baseTarget.", success)

		if prev.Cmp(big.NewInt(5)) != 0 {
			t.Fatalf("\t%s\tShould not modify the previous difficulty.", failed)
		}
		t.Logf("\t%s\tShould not modify the previous difficulty.", success)

		for _, bt := range []*big.Int{pot.GenesisBaseTarget, big.NewInt(1), new(big.Int).Lsh(big.NewInt(1), 63)} {
			next, err := pot.CumulativeDifficulty(prev, bt)
			if err != nil || next.Cmp(prev) <= 0 {
				t.Fatalf("\t%s\tShould strictly increase for base target %s.", failed, bt)
			}
		}
		t.Logf("\t%s\tShould strictly increase for valid base targets.", success)

		if _, err := pot.CumulativeDifficulty(prev, big.NewInt(0)); !errors.Is(err, pot.ErrInvalidBaseTarget) {
			t.Fatalf("\t%s\tShould reject a zero base target: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject a zero base target.", success)
	}
}

func Test_ForgingTimeInterval(t *testing.T) {
	type table struct {
		name string
		hit  *big.Int
		bt   *big.Int
		fp   uint64
		exp  uint64
	}

	tt := []table{
		{name: "basic", hit: big.NewInt(1000), bt: big.NewInt(10), fp: 3, exp: 34},
		{name: "zero hit", hit: big.NewInt(0), bt: big.NewInt(10), fp: 3, exp: 1},
		{name: "saturates", hit: new(big.Int).Lsh(big.NewInt(1), 100), bt: big.NewInt(1), fp: 1, exp: math.MaxUint64},
	}

	t.Log("Given the need to compute how long a forger has to wait.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				got, err := pot.ForgingTimeInterval(tst.hit, tst.bt, tst.fp)
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to compute the interval: %v", failed, testID, err)
				}

				if got != tst.exp {
					t.Logf("\t%s\tTest %d:\tgot: %d", failed, testID, got)
					t.Logf("\t%s\tTest %d:\texp: %d", failed, testID, tst.exp)
					t.Fatalf("\t%s\tTest %d:\tShould get the expected interval.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould get the expected interval.", success, testID)
			}

			t.Run(tst.name, f)
		}

		if _, err := pot.ForgingTimeInterval(big.NewInt(1), big.NewInt(1), 0); !errors.Is(err, pot.ErrNoForgingPower) {
			t.Fatalf("\t%s\tShould reject zero forging power: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject zero forging power.", success)
	}
}

func Test_EligibleMatchesInterval(t *testing.T) {
	t.Log("Given the need for eligibility to start exactly at the forging interval.")
	{
		var genSig [32]byte
		genSig[0] = 0x12
		genSig[3] = 0x34

		hit := pot.RandomHit(genSig)
		bt := pot.GenesisBaseTarget

		for _, fp := range []uint64{1, 7, 1000} {
			interval, err := pot.ForgingTimeInterval(hit, bt, fp)
			if err != nil {
				t.Fatalf("\t%s\tShould be able to compute the interval: %v", failed, err)
			}

			if !pot.Eligible(hit, bt, fp, interval) {
				t.Fatalf("\t%s\tShould be eligible after %d seconds with power %d.", failed, interval, fp)
			}

			if pot.Eligible(hit, bt, fp, interval-1) {
				t.Fatalf("\t%s\tShould not be eligible after %d seconds with power %d.", failed, interval-1, fp)
			}
		}
		t.Logf("\t%s\tShould be eligible exactly from the interval.", success)
	}
}
