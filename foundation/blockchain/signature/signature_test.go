package signature_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/taucoin/taunode/foundation/blockchain/signature"
)

const (
	pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	from     = "0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4"
)

// =============================================================================

func Test_Signing(t *testing.T) {
	value := struct {
		Name string
	}{
		Name: "Bill",
	}

	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	v, r, s, err := signature.Sign(value, pk)
	if err != nil {
		t.Fatalf("Should be able to sign data: %s", err)
	}

	if err := signature.VerifySignature(v, r, s); err != nil {
		t.Fatalf("Should be able to verify the signature: %s", err)
	}

	addr, err := signature.FromAddress(value, v, r, s)
	if err != nil {
		t.Fatalf("Should be able to generate from address: %s", err)
	}

	if from != addr {
		t.Logf("got: %s", addr)
		t.Logf("exp: %s", from)
		t.Fatalf("Should get back the right address.")
	}

	other := struct {
		Name string
	}{
		Name: "Jill",
	}

	addr, err = signature.FromAddress(other, v, r, s)
	if err == nil && addr == from {
		t.Fatalf("Should not recover the signer for different data.")
	}

	str := signature.SignatureString(v, r, s)
	if len(str) != 2+2*crypto.SignatureLength {
		t.Fatalf("Should get back a 65 byte signature string: %s", str)
	}
}

func Test_BadRecoveryID(t *testing.T) {
	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	_, r, s, err := signature.Sign("data", pk)
	if err != nil {
		t.Fatalf("Should be able to sign data: %s", err)
	}

	for _, v := range []int64{0, 1, 27, 28, 33} {
		if err := signature.VerifySignature(big.NewInt(v), r, s); err == nil {
			t.Fatalf("Should reject recovery id %d.", v)
		}
	}
}

func Test_Compressed(t *testing.T) {
	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	pub := signature.CompressPublicKey(pk)
	if len(pub) != 33 {
		t.Fatalf("Should get a 33 byte compressed key, got %d.", len(pub))
	}

	addr, err := signature.AddressFromCompressed(pub)
	if err != nil {
		t.Fatalf("Should be able to derive an address: %s", err)
	}

	if addr != from {
		t.Logf("got: %s", addr)
		t.Logf("exp: %s", from)
		t.Fatalf("Should derive the signer's address from the compressed key.")
	}
}

func Test_Hash(t *testing.T) {
	value := struct {
		Name string
	}{
		Name: "Bill",
	}
	hash := "0x0f6887ac85101d6d6425a617edf35bd721b5f619fb92c36c3d2224e3bdb0ee5a"

	h := signature.Hash(value)
	if h != hash {
		t.Logf("got: %s", h)
		t.Logf("exp: %s", hash)
		t.Fatalf("Should get back the right hash: %s", h[:6])
	}
}
