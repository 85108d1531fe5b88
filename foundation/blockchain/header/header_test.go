package header_test

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/taucoin/taunode/foundation/blockchain/header"
	"golang.org/x/crypto/ripemd160"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// generator is the compressed secp256k1 base point.
var generator = hexutil.MustDecode("0x0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798")

// =============================================================================

func Test_RoundTrip(t *testing.T) {
	t.Log("Given the need to encode and decode block headers.")
	{
		prev := header.Hash{1, 2, 3, 4, 5}

		h, err := header.New(1, 1_600_000_000, prev, generator)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct a header: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to construct a header.", success)

		h2, err := header.Decode(h.Encode())
		if err != nil {
			t.Fatalf("\t%s\tShould be able to decode the encoding: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to decode the encoding.", success)

		if !bytes.Equal(h2.Encode(), h.Encode()) {
			t.Fatalf("\t%s\tShould re-encode to the same bytes.", failed)
		}
		t.Logf("\t%s\tShould re-encode to the same bytes.", success)

		if h2.Hash() != h.Hash() {
			t.Fatalf("\t%s\tShould hash to the same value.", failed)
		}
		t.Logf("\t%s\tShould hash to the same value.", success)

		if h2.Version() != 1 || h2.Timestamp() != 1_600_000_000 || h2.PrevHash() != prev || !bytes.Equal(h2.GeneratorPublicKey(), generator) {
			t.Fatalf("\t%s\tShould decode every field: %s", failed, h2)
		}
		t.Logf("\t%s\tShould decode every field.", success)
	}
}

func Test_Hash(t *testing.T) {
	t.Log("Given the need to identify headers by RIPEMD160(SHA256(encoding)).")
	{
		h, err := header.New(1, 42, header.ZeroHash, generator)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct a header: %v", failed, err)
		}

		sum := sha256.Sum256(h.Encode())
		hasher := ripemd160.New()
		hasher.Write(sum[:])

		hash := h.Hash()
		if !bytes.Equal(hash[:], hasher.Sum(nil)) {
			t.Fatalf("\t%s\tShould hash the encoding twice.", failed)
		}
		t.Logf("\t%s\tShould hash the encoding twice.", success)

		h2, _ := header.New(1, 43, header.ZeroHash, generator)
		if h2.Hash() == hash {
			t.Fatalf("\t%s\tShould change the hash when the timestamp changes.", failed)
		}
		t.Logf("\t%s\tShould change the hash when the timestamp changes.", success)
	}
}

func Test_DecodeErrors(t *testing.T) {
	type fields struct {
		Version            uint8
		TimeStamp          []byte
		PrevHeaderHash     []byte
		GeneratorPublicKey []byte
	}

	encode := func(v any) []byte {
		b, err := rlp.EncodeToBytes(v)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to encode test data: %v", failed, err)
		}
		return b
	}

	valid := fields{1, []byte{0, 0, 0, 1}, make([]byte, header.HashLength), generator}
	good := encode(valid)

	type table struct {
		name string
		data []byte
	}

	tt := []table{
		{name: "empty", data: nil},
		{name: "not a list", data: encode([]byte{1, 2, 3})},
		{name: "three fields", data: encode([]any{uint8(1), []byte{0, 0, 0, 1}, make([]byte, header.HashLength)})},
		{name: "five fields", data: encode([]any{uint8(1), []byte{0, 0, 0, 1}, make([]byte, header.HashLength), generator, []byte{1}})},
		{name: "short timestamp", data: encode(fields{1, []byte{0, 1}, make([]byte, header.HashLength), generator})},
		{name: "short hash", data: encode(fields{1, []byte{0, 0, 0, 1}, make([]byte, 19), generator})},
		{name: "uncompressed key", data: encode(fields{1, []byte{0, 0, 0, 1}, make([]byte, header.HashLength), make([]byte, 65)})},
		{name: "key off curve", data: encode(fields{1, []byte{0, 0, 0, 1}, make([]byte, header.HashLength), append([]byte{0x05}, generator[1:]...)})},
		{name: "trailing bytes", data: append(append([]byte{}, good...), 0x80)},
		{name: "truncated", data: good[:len(good)-1]},
	}

	t.Log("Given the need to reject malformed header encodings.")
	{
		if _, err := header.Decode(good); err != nil {
			t.Fatalf("\t%s\tShould accept the well formed encoding: %v", failed, err)
		}
		t.Logf("\t%s\tShould accept the well formed encoding.", success)

		for testID, tst := range tt {
			f := func(t *testing.T) {
				_, err := header.Decode(tst.data)
				if !errors.Is(err, header.ErrDecode) {
					t.Fatalf("\t%s\tTest %d:\tShould fail with a decode error, got %v.", failed, testID, err)
				}
				t.Logf("\t%s\tTest %d:\tShould fail with a decode error.", success, testID)
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_Text(t *testing.T) {
	t.Log("Given the need to carry headers inside JSON documents.")
	{
		h, err := header.New(1, 7, header.Hash{9}, generator)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct a header: %v", failed, err)
		}

		text, err := h.MarshalText()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to marshal the header: %v", failed, err)
		}

		var h2 header.Header
		if err := h2.UnmarshalText(text); err != nil {
			t.Fatalf("\t%s\tShould be able to unmarshal the header: %v", failed, err)
		}

		if h2.Hash() != h.Hash() {
			t.Fatalf("\t%s\tShould get back the same header.", failed)
		}
		t.Logf("\t%s\tShould get back the same header.", success)

		hash, err := header.ToHash(h.Hash().String())
		if err != nil || hash != h.Hash() {
			t.Fatalf("\t%s\tShould parse a hash from its string form: %v", failed, err)
		}
		t.Logf("\t%s\tShould parse a hash from its string form.", success)
	}
}
