package chain

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// DeriveATA returns the associated token account address for (owner, mint),
// the standard SPL derivation used to resolve the liquidator's own
// repay/withdraw token accounts for the Instruction Assembler.
func DeriveATA(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive associated token account for owner=%s mint=%s: %w", owner, mint, err)
	}
	return ata, nil
}
