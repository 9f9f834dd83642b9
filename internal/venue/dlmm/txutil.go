package dlmm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/compute-budget"
)

// normalizeInstructionSets accepts the two shapes the API emits for
// transaction-building endpoints: a flat instruction list (one transaction)
// or a list of lists (one per transaction). Both normalize to the latter.
func normalizeInstructionSets(raw json.RawMessage) ([][]apiInstruction, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("dlmm: empty instruction payload")
	}

	var sets [][]apiInstruction
	if err := json.Unmarshal(raw, &sets); err == nil {
		return sets, nil
	}

	var flat []apiInstruction
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("dlmm: decode instructions: %w", err)
	}
	return [][]apiInstruction{flat}, nil
}

// instructionKey identifies an instruction by program, accounts and data for
// dedup purposes.
func instructionKey(in solana.Instruction) string {
	var sb strings.Builder
	sb.WriteString(in.ProgramID().String())
	for _, acc := range in.Accounts() {
		sb.WriteByte('|')
		sb.WriteString(acc.PublicKey.String())
		if acc.IsSigner {
			sb.WriteByte('s')
		}
		if acc.IsWritable {
			sb.WriteByte('w')
		}
	}
	data, err := in.Data()
	if err == nil {
		sb.WriteByte('|')
		sb.Write(data)
	}
	return sb.String()
}

// dedupInstructions drops exact duplicate instructions while preserving
// order. The API occasionally emits the same ATA-creation or claim
// instruction in more than one spot; executing it twice wastes compute and
// can fail the transaction.
func dedupInstructions(instrs []solana.Instruction) []solana.Instruction {
	seen := make(map[string]bool, len(instrs))
	out := make([]solana.Instruction, 0, len(instrs))
	for _, in := range instrs {
		key := instructionKey(in)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, in)
	}
	return out
}

// buildTransactions turns normalized instruction sets into unsigned
// transactions. Each transaction gets its instructions deduplicated and
// exactly one compute-unit price instruction prepended when priorityFee is
// non-zero.
func buildTransactions(
	sets [][]apiInstruction,
	payer solana.PublicKey,
	blockhash solana.Hash,
	priorityFee uint64,
) ([]*solana.Transaction, error) {
	txs := make([]*solana.Transaction, 0, len(sets))

	for i, set := range sets {
		if len(set) == 0 {
			continue
		}

		instrs := make([]solana.Instruction, 0, len(set)+1)
		for _, apiIn := range set {
			in, err := apiIn.toInstruction()
			if err != nil {
				return nil, fmt.Errorf("dlmm: transaction %d: %w", i, err)
			}
			instrs = append(instrs, in)
		}
		instrs = dedupInstructions(instrs)

		if priorityFee > 0 {
			fee := computebudget.NewSetComputeUnitPriceInstruction(priorityFee).Build()
			instrs = append([]solana.Instruction{fee}, instrs...)
		}

		tx, err := solana.NewTransaction(instrs, blockhash, solana.TransactionPayer(payer))
		if err != nil {
			return nil, fmt.Errorf("dlmm: build transaction %d: %w", i, err)
		}
		txs = append(txs, tx)
	}

	if len(txs) == 0 {
		return nil, fmt.Errorf("dlmm: no instructions to execute")
	}
	return txs, nil
}
