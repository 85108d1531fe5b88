package peer_test

import (
	"testing"

	"github.com/taucoin/taunode/foundation/blockchain/header"
	"github.com/taucoin/taunode/foundation/blockchain/peer"
)

func Test_HostSet(t *testing.T) {
	type table struct {
		name  string
		hosts []string
	}

	tt := []table{
		{
			name:  "basic",
			hosts: []string{"host1", "host2", "host3"},
		},
	}

	for _, tst := range tt {
		f := func(t *testing.T) {
			hs := peer.NewHostSet()

			for _, host := range tst.hosts {
				if !hs.Add(host) {
					t.Fatalf("Test %s:\tShould add new host %s.", tst.name, host)
				}
			}

			if hs.Add(tst.hosts[0]) {
				t.Fatalf("Test %s:\tShould not add a known host twice.", tst.name)
			}

			hosts := hs.Copy("")
			if len(hosts) != len(tst.hosts) {
				t.Logf("Test %s:\tgot: %d", tst.name, len(hosts))
				t.Logf("Test %s:\texp: %d", tst.name, len(tst.hosts))
				t.Fatalf("Test %s:\tShould get back the right hosts.", tst.name)
			}

			hosts = hs.Copy("host2")
			if len(hosts) != len(tst.hosts)-1 {
				t.Logf("Test %s:\tgot: %d", tst.name, len(hosts))
				t.Logf("Test %s:\texp: %d", tst.name, len(tst.hosts)-1)
				t.Fatalf("Test %s:\tShould get back the right hosts.", tst.name)
			}

			hs.Remove("host1")
			if hosts := hs.Copy(""); len(hosts) != len(tst.hosts)-1 || hosts[0] != "host2" {
				t.Fatalf("Test %s:\tShould remove the host: got %v", tst.name, hosts)
			}
		}

		t.Run(tst.name, f)
	}
}

func Test_Status(t *testing.T) {
	local := peer.Status{NodeID: "self", ChainID: 1}

	type table struct {
		name   string
		remote peer.Status
		ok     bool
	}

	tt := []table{
		{name: "compatible", remote: peer.Status{NodeID: "other", ChainID: 1}, ok: true},
		{name: "other chain", remote: peer.Status{NodeID: "other", ChainID: 2}},
		{name: "other genesis", remote: peer.Status{NodeID: "other", ChainID: 1, GenesisHash: header.Hash{1}}},
		{name: "no identity", remote: peer.Status{ChainID: 1}},
	}

	for _, tst := range tt {
		f := func(t *testing.T) {
			err := local.Compatible(tst.remote)
			if tst.ok && err != nil {
				t.Fatalf("Test %s:\tShould accept the status: %v", tst.name, err)
			}
			if !tst.ok && err == nil {
				t.Fatalf("Test %s:\tShould reject the status.", tst.name)
			}
		}

		t.Run(tst.name, f)
	}
}

func Test_Reasons(t *testing.T) {
	if got := peer.ReasonTooManyPeers.String(); got != "too many peers" {
		t.Fatalf("Should name the reason: got %q", got)
	}
	if got := peer.ReasonCode(0x42).String(); got != "unknown(0x42)" {
		t.Fatalf("Should name unknown reasons by value: got %q", got)
	}
	if uint8(peer.ReasonUserReason) != 0x10 || uint8(peer.ReasonDuplicatePeer) != 0x05 {
		t.Fatalf("Should keep the wire values of the reasons.")
	}
}
