package public

import (
	"math/big"

	"github.com/taucoin/taunode/foundation/blockchain/database"
	"github.com/taucoin/taunode/foundation/nameservice"
)

type account struct {
	Account    database.AccountID `json:"account"`
	Name       string             `json:"name"`
	Balance    uint64             `json:"balance"`
	ForgePower uint64             `json:"forge_power"`
}

type actInfo struct {
	LatestBlock string    `json:"latest_block"`
	Uncommitted int       `json:"uncommitted"`
	Accounts    []account `json:"accounts"`
}

type tx struct {
	Hash       string             `json:"hash"`
	ChainID    uint16             `json:"chain_id"`
	Sender     database.AccountID `json:"sender"`
	SenderName string             `json:"sender_name"`
	To         database.AccountID `json:"to"`
	ToName     string             `json:"to_name"`
	Amount     int64              `json:"amount"`
	Fee        int64              `json:"fee"`
	TimeStamp  uint64             `json:"timestamp"`
	Sig        string             `json:"sig"`
}

type block struct {
	Number               uint64             `json:"number"`
	Hash                 string             `json:"hash"`
	PrevHash             string             `json:"prev_hash"`
	TimeStamp            uint32             `json:"timestamp"`
	Generator            database.AccountID `json:"generator"`
	GeneratorName        string             `json:"generator_name"`
	BaseTarget           *big.Int           `json:"base_target"`
	CumulativeDifficulty *big.Int           `json:"cumulative_difficulty"`
	ForgingPower         uint64             `json:"forging_power"`
	Trans                []tx               `json:"trans"`
}

// submitTx is what a wallet posts. The fields mirror database.SignedTx.
type submitTx struct {
	ChainID   uint16   `json:"chain_id" validate:"required"`
	Sender    string   `json:"sender" validate:"required,eth_addr"`
	To        string   `json:"to" validate:"required,eth_addr"`
	Amount    int64    `json:"amount" validate:"gte=0"`
	Fee       int64    `json:"fee" validate:"gte=0"`
	TimeStamp uint64   `json:"timestamp" validate:"required"`
	V         *big.Int `json:"v" validate:"required"`
	R         *big.Int `json:"r" validate:"required"`
	S         *big.Int `json:"s" validate:"required"`
}

// toSignedTx keeps the accounts exactly as posted since the signature
// covers their textual form.
func toSignedTx(st submitTx) database.SignedTx {
	return database.SignedTx{
		Tx: database.Tx{
			ChainID:        st.ChainID,
			Sender:         database.AccountID(st.Sender),
			ReceiveAddress: database.AccountID(st.To),
			Amount:         st.Amount,
			Fee:            st.Fee,
			TimeStamp:      st.TimeStamp,
		},
		V: st.V,
		R: st.R,
		S: st.S,
	}
}

func toTx(ns *nameservice.NameService, tran database.SignedTx) tx {
	return tx{
		Hash:       tran.Hash(),
		ChainID:    tran.ChainID,
		Sender:     tran.Sender,
		SenderName: ns.Lookup(tran.Sender),
		To:         tran.ReceiveAddress,
		ToName:     ns.Lookup(tran.ReceiveAddress),
		Amount:     tran.Amount,
		Fee:        tran.Fee,
		TimeStamp:  tran.TimeStamp,
		Sig:        tran.SignatureString(),
	}
}

func toBlock(ns *nameservice.NameService, blk database.Block) block {
	trans := make([]tx, len(blk.Trans))
	for i, tran := range blk.Trans {
		trans[i] = toTx(ns, tran)
	}

	b := block{
		Number:               blk.Number,
		Hash:                 blk.Hash().String(),
		PrevHash:             blk.Header.PrevHash().String(),
		TimeStamp:            blk.Timestamp(),
		BaseTarget:           blk.BaseTarget,
		CumulativeDifficulty: blk.CumulativeDifficulty,
		ForgingPower:         blk.ForgingPower,
		Trans:                trans,
	}

	if generator, err := blk.Coinbase(); err == nil {
		b.Generator = generator
		b.GeneratorName = ns.Lookup(generator)
	}

	return b
}
