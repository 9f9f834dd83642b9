package dlmm

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testProgram = solana.MustPublicKeyFromBase58("LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo")
	testAccount = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	testPayer   = solana.MustPublicKeyFromBase58("Vote111111111111111111111111111111111111111")
)

func testInstruction(data []byte) apiInstruction {
	return apiInstruction{
		ProgramID: testProgram.String(),
		Accounts: []apiAccountMeta{
			{Pubkey: testAccount.String(), IsSigner: false, IsWritable: true},
		},
		Data: base64.StdEncoding.EncodeToString(data),
	}
}

func TestNormalizeInstructionSets(t *testing.T) {
	flat, err := json.Marshal([]apiInstruction{testInstruction([]byte{1}), testInstruction([]byte{2})})
	require.NoError(t, err)
	nested, err := json.Marshal([][]apiInstruction{
		{testInstruction([]byte{1})},
		{testInstruction([]byte{2})},
	})
	require.NoError(t, err)

	sets, err := normalizeInstructionSets(flat)
	require.NoError(t, err)
	require.Len(t, sets, 1, "a flat list is one transaction")
	assert.Len(t, sets[0], 2)

	sets, err = normalizeInstructionSets(nested)
	require.NoError(t, err)
	assert.Len(t, sets, 2, "a nested list is one transaction per element")

	_, err = normalizeInstructionSets(nil)
	assert.Error(t, err)

	_, err = normalizeInstructionSets(json.RawMessage(`{"not":"a list"}`))
	assert.Error(t, err)
}

func TestDedupInstructions(t *testing.T) {
	a, err := testInstruction([]byte{1, 2, 3}).toInstruction()
	require.NoError(t, err)
	dup, err := testInstruction([]byte{1, 2, 3}).toInstruction()
	require.NoError(t, err)
	b, err := testInstruction([]byte{4}).toInstruction()
	require.NoError(t, err)

	out := dedupInstructions([]solana.Instruction{a, dup, b, a})
	require.Len(t, out, 2)
	assert.Same(t, a, out[0], "first occurrence wins, order preserved")
	assert.Same(t, b, out[1])
}

func TestDedupKeepsDifferentAccountFlags(t *testing.T) {
	base := testInstruction([]byte{9})
	signer := base
	signer.Accounts = []apiAccountMeta{
		{Pubkey: testAccount.String(), IsSigner: true, IsWritable: true},
	}

	a, err := base.toInstruction()
	require.NoError(t, err)
	b, err := signer.toInstruction()
	require.NoError(t, err)

	out := dedupInstructions([]solana.Instruction{a, b})
	assert.Len(t, out, 2, "same program and data but different metas are distinct")
}

func TestBuildTransactionsPrependsOnePriorityFee(t *testing.T) {
	sets := [][]apiInstruction{
		{testInstruction([]byte{1}), testInstruction([]byte{1}), testInstruction([]byte{2})},
	}

	txs, err := buildTransactions(sets, testPayer, solana.Hash{}, 10_000)
	require.NoError(t, err)
	require.Len(t, txs, 1)

	// Duplicate dropped, fee instruction prepended: 2 payload + 1 fee.
	msg := txs[0].Message
	require.Len(t, msg.Instructions, 3)

	feeProgram, err := msg.Program(msg.Instructions[0].ProgramIDIndex)
	require.NoError(t, err)
	assert.Equal(t, computebudget.ProgramID, feeProgram, "fee instruction comes first")

	for _, in := range msg.Instructions[1:] {
		program, err := msg.Program(in.ProgramIDIndex)
		require.NoError(t, err)
		assert.Equal(t, testProgram, program)
	}
}

func TestBuildTransactionsZeroFeeAddsNothing(t *testing.T) {
	sets := [][]apiInstruction{{testInstruction([]byte{1})}}

	txs, err := buildTransactions(sets, testPayer, solana.Hash{}, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Len(t, txs[0].Message.Instructions, 1)
}

func TestBuildTransactionsEmptyInput(t *testing.T) {
	_, err := buildTransactions(nil, testPayer, solana.Hash{}, 0)
	assert.Error(t, err)

	_, err = buildTransactions([][]apiInstruction{{}}, testPayer, solana.Hash{}, 0)
	assert.Error(t, err, "a set with no instructions builds nothing")
}

func TestToInstructionRejectsBadPayloads(t *testing.T) {
	bad := testInstruction([]byte{1})
	bad.ProgramID = "not-base58!"
	_, err := bad.toInstruction()
	assert.Error(t, err)

	bad = testInstruction([]byte{1})
	bad.Data = "%%%"
	_, err = bad.toInstruction()
	assert.Error(t, err)
}
