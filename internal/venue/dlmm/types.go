package dlmm

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/solwheel/dlmmkeeper/internal/domain"
)

// apiToken is the token payload embedded in pool responses.
type apiToken struct {
	Mint      string  `json:"mint"`
	Symbol    string  `json:"symbol"`
	Decimals  int     `json:"decimals"`
	Volume24h float64 `json:"volume24h"`
	MarketCap float64 `json:"marketCap"`
}

// apiPool is the pool metadata payload.
type apiPool struct {
	Address   string       `json:"address"`
	BinStep   uint16       `json:"binStep"`
	TokenX    apiToken     `json:"tokenX"`
	TokenY    apiToken     `json:"tokenY"`
	ActiveBin apiActiveBin `json:"activeBin"`
}

// apiActiveBin is the active bin payload.
type apiActiveBin struct {
	BinID         int32   `json:"binId"`
	Price         float64 `json:"price,string"`
	PricePerToken float64 `json:"pricePerToken,string"`
}

// apiBin is one bin of a position's liquidity distribution.
type apiBin struct {
	BinID   int32  `json:"binId"`
	AmountX uint64 `json:"amountX,string"`
	AmountY uint64 `json:"amountY,string"`
}

// apiPosition is the venue's view of one live position.
type apiPosition struct {
	Address    string   `json:"address"`
	Pool       string   `json:"pool"`
	LowerBinID int32    `json:"lowerBinId"`
	UpperBinID int32    `json:"upperBinId"`
	AmountX    uint64   `json:"amountX,string"`
	AmountY    uint64   `json:"amountY,string"`
	FeeX       uint64   `json:"feeX,string"`
	FeeY       uint64   `json:"feeY,string"`
	Bins       []apiBin `json:"bins"`
}

// apiAccountMeta mirrors a Solana account meta in instruction payloads.
type apiAccountMeta struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

// apiInstruction is one instruction in a transaction-building response. Data
// is base64-encoded.
type apiInstruction struct {
	ProgramID string           `json:"programId"`
	Accounts  []apiAccountMeta `json:"accounts"`
	Data      string           `json:"data"`
}

// txBuildResponse wraps the instruction payload of every transaction-building
// endpoint. Depending on the operation the API returns either a single
// instruction list or a list of lists (one per transaction); Normalize
// handles both.
type txBuildResponse struct {
	Instructions json.RawMessage `json:"instructions"`
}

func (p apiPool) toDomain() domain.Pool {
	return domain.Pool{
		Address: p.Address,
		BinStep: p.BinStep,
		TokenX:  p.TokenX.toDomain(),
		TokenY:  p.TokenY.toDomain(),
		ActiveBin: domain.ActiveBin{
			BinID:         p.ActiveBin.BinID,
			Price:         p.ActiveBin.Price,
			PricePerToken: p.ActiveBin.PricePerToken,
		},
	}
}

func (t apiToken) toDomain() domain.TokenInfo {
	return domain.TokenInfo{
		Mint:      t.Mint,
		Symbol:    t.Symbol,
		Decimals:  uint8(t.Decimals),
		Volume24h: t.Volume24h,
		MarketCap: t.MarketCap,
	}
}

func (ab apiActiveBin) toDomain() domain.ActiveBin {
	return domain.ActiveBin{
		BinID:         ab.BinID,
		Price:         ab.Price,
		PricePerToken: ab.PricePerToken,
	}
}

func (p apiPosition) toDomain() domain.OnChainPosition {
	bins := make([]domain.BinLiquidity, 0, len(p.Bins))
	for _, b := range p.Bins {
		bins = append(bins, domain.BinLiquidity{
			BinID:   b.BinID,
			AmountX: b.AmountX,
			AmountY: b.AmountY,
		})
	}
	return domain.OnChainPosition{
		Address:    p.Address,
		Pool:       p.Pool,
		LowerBinID: p.LowerBinID,
		UpperBinID: p.UpperBinID,
		AmountX:    p.AmountX,
		AmountY:    p.AmountY,
		FeeX:       p.FeeX,
		FeeY:       p.FeeY,
		Bins:       bins,
	}
}

// toInstruction decodes an API instruction into a solana-go instruction.
func (in apiInstruction) toInstruction() (solana.Instruction, error) {
	programID, err := solana.PublicKeyFromBase58(in.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("dlmm: invalid program id %q: %w", in.ProgramID, err)
	}

	accounts := make(solana.AccountMetaSlice, 0, len(in.Accounts))
	for _, a := range in.Accounts {
		pubkey, err := solana.PublicKeyFromBase58(a.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("dlmm: invalid account %q: %w", a.Pubkey, err)
		}
		accounts = append(accounts, &solana.AccountMeta{
			PublicKey:  pubkey,
			IsSigner:   a.IsSigner,
			IsWritable: a.IsWritable,
		})
	}

	data, err := base64.StdEncoding.DecodeString(in.Data)
	if err != nil {
		return nil, fmt.Errorf("dlmm: invalid instruction data: %w", err)
	}

	return solana.NewInstruction(programID, accounts, data), nil
}
