// Package chain wraps the Solana JSON-RPC surface the epoch engine needs:
// program-account scans, batched multi-account reads, and transaction
// submission with confirmation polling.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/coldbell/liquidator/internal/decode"
)

// Program IDs per deployment tag, matching the reference backend's constants.
const (
	ProgramIDProduction = "So1endDq2YkqhipRh3WViPa8hdiSpxWy6z3Z6tMCpAo"
	ProgramIDBeta        = "BLendhFh4HGnycEDDFhbeFEUYLP4fXB5tTHMoTX8Dch5"
	ProgramIDStaging     = "ALend7Ketfx5bxh6ghsCDXAoDrhvEmsXT3cynB6aPLgx"
)

// accountBatchSize is the chunk size used for getMultipleAccounts requests.
const accountBatchSize = 100

// ProgramID resolves the lending program address for a deployment tag.
// Unrecognized tags (including "devnet", which has no dedicated program in
// the reference backend) fall back to production, matching the source's
// catch-all match arm.
func ProgramID(app string) (solana.PublicKey, error) {
	switch app {
	case "production", "devnet":
		return solana.PublicKeyFromBase58(ProgramIDProduction)
	case "beta":
		return solana.PublicKeyFromBase58(ProgramIDBeta)
	case "staging":
		return solana.PublicKeyFromBase58(ProgramIDStaging)
	default:
		return solana.PublicKeyFromBase58(ProgramIDProduction)
	}
}

// Client wraps an RPC client bound to one lending program deployment.
type Client struct {
	rpc       *rpc.Client
	programID solana.PublicKey
	logger    *slog.Logger
}

func NewClient(endpoint string, programID solana.PublicKey, logger *slog.Logger) *Client {
	return &Client{
		rpc:       rpc.New(endpoint),
		programID: programID,
		logger:    logger,
	}
}

// lendingMarketFilterOffset is the byte offset of the lending-market pubkey
// field within both the Reserve and Obligation layouts.
const lendingMarketFilterOffset = 10

// GetObligations scans for every obligation account belonging to a lending
// market, decodes each, and drops any whose last_update.slot is zero
// (never written) or whose bytes fail to decode.
func (c *Client) GetObligations(ctx context.Context, lendingMarket solana.PublicKey) (map[solana.PublicKey]*decode.Obligation, error) {
	accounts, err := c.scanProgramAccounts(ctx, lendingMarket, decode.ObligationSize)
	if err != nil {
		return nil, fmt.Errorf("scan obligations: %w", err)
	}

	out := make(map[solana.PublicKey]*decode.Obligation, len(accounts))
	for pubkey, data := range accounts {
		ob, err := decode.DecodeObligation(data)
		if err != nil {
			c.logger.Warn("failed to decode obligation", "pubkey", pubkey.String(), "err", err)
			continue
		}
		if ob.LastUpdate.IsZero() {
			continue
		}
		out[pubkey] = ob
	}

	c.logger.Info("fetched obligations", "market", lendingMarket.String(), "count", len(out))
	return out, nil
}

// GetReserves scans for every reserve account belonging to a lending market.
func (c *Client) GetReserves(ctx context.Context, lendingMarket solana.PublicKey) (map[solana.PublicKey]*decode.Reserve, error) {
	accounts, err := c.scanProgramAccounts(ctx, lendingMarket, decode.ReserveSize)
	if err != nil {
		return nil, fmt.Errorf("scan reserves: %w", err)
	}

	out := make(map[solana.PublicKey]*decode.Reserve, len(accounts))
	for pubkey, data := range accounts {
		r, err := decode.DecodeReserve(data)
		if err != nil {
			c.logger.Warn("failed to decode reserve", "pubkey", pubkey.String(), "err", err)
			continue
		}
		if r.LastUpdate.IsZero() {
			continue
		}
		out[pubkey] = r
	}

	c.logger.Info("fetched reserves", "market", lendingMarket.String(), "count", len(out))
	return out, nil
}

func (c *Client) scanProgramAccounts(ctx context.Context, lendingMarket solana.PublicKey, dataSize uint64) (map[solana.PublicKey][]byte, error) {
	filters := []rpc.RPCFilter{
		{
			Memcmp: &rpc.RPCFilterMemcmp{
				Offset: lendingMarketFilterOffset,
				Bytes:  solana.Base58(lendingMarket.Bytes()),
			},
		},
		{
			DataSize: dataSize,
		},
	}

	accounts, err := c.rpc.GetProgramAccountsWithOpts(ctx, c.programID, &rpc.GetProgramAccountsOpts{
		Commitment: rpc.CommitmentConfirmed,
		Filters:    filters,
	})
	if err != nil {
		return nil, err
	}

	out := make(map[solana.PublicKey][]byte, len(accounts))
	for _, item := range accounts {
		if item == nil || item.Account == nil {
			continue
		}
		out[item.Pubkey] = item.Account.Data.GetBinary()
	}
	return out, nil
}

// FetchAccounts implements oracle.AccountFetcher: a chunked getMultipleAccounts
// read over an arbitrary key set.
func (c *Client) FetchAccounts(ctx context.Context, keys []solana.PublicKey) (map[solana.PublicKey][]byte, error) {
	out := make(map[solana.PublicKey][]byte, len(keys))

	for start := 0; start < len(keys); start += accountBatchSize {
		end := start + accountBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		resp, err := c.rpc.GetMultipleAccountsWithOpts(ctx, chunk, &rpc.GetMultipleAccountsOpts{
			Commitment: rpc.CommitmentConfirmed,
		})
		if err != nil {
			return nil, fmt.Errorf("get multiple accounts (batch %d-%d): %w", start, end, err)
		}

		for i, acct := range resp.Value {
			if acct == nil {
				continue
			}
			out[chunk[i]] = acct.Data.GetBinary()
		}
	}

	return out, nil
}

// GetSlot returns the current confirmed slot, used for oracle staleness
// checks.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	return c.rpc.GetSlot(ctx, rpc.CommitmentConfirmed)
}

// SubmissionError wraps a failed transaction send or confirmation.
type SubmissionError struct {
	Signature string
	Err       error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission failed (sig=%s): %v", e.Signature, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

const (
	confirmPollInterval = 500 * time.Millisecond
	confirmTimeout       = 60 * time.Second
)

// SendAndConfirm builds a transaction from the assembled instructions,
// signs it with signer as fee payer, submits it, and polls for confirmation.
func (c *Client) SendAndConfirm(ctx context.Context, instructions []solana.Instruction, signer solana.PrivateKey) (solana.Signature, error) {
	recent, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		instructions,
		recent.Value.Blockhash,
		solana.TransactionPayer(signer.PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if signer.PublicKey().Equals(key) {
			return &signer
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, &SubmissionError{Err: err}
	}

	if err := c.pollConfirmation(ctx, sig); err != nil {
		return sig, &SubmissionError{Signature: sig.String(), Err: err}
	}
	return sig, nil
}

func (c *Client) pollConfirmation(ctx context.Context, sig solana.Signature) error {
	deadline := time.Now().Add(confirmTimeout)
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		statuses, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return err
		}
		if len(statuses.Value) > 0 && statuses.Value[0] != nil {
			st := statuses.Value[0]
			if st.Err != nil {
				return fmt.Errorf("transaction failed on-chain: %v", st.Err)
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("confirmation timed out after %s", confirmTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
