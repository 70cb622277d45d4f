// Package onchain implements the gateway's fast-rail on-chain verifier
// (spec §4.G): it fetches a transaction receipt from the fast-rail RPC
// and validates a stablecoin Transfer event paying the expected
// recipient at least the expected amount.
package onchain

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/meterly/gateway/internal/circuitbreaker"
	"github.com/meterly/gateway/internal/verifyresult"
)

var (
	txHashPattern   = regexp.MustCompile(`^0x[0-9a-f]{64}$`)
	addressPattern  = regexp.MustCompile(`^0x[0-9a-f]{40}$`)
	transferTopic   = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	receiptDeadline = 15 * time.Second
)

// ProofRecorder is the subset of the ledger the verifier needs: the
// atomic insert-or-ignore that is the sole source of replay truth.
type ProofRecorder interface {
	RecordProof(ctx context.Context, proofKey, payer string, amountBaseUnits *big.Int, caip2 string) (bool, error)
}

// receiptFetcher abstracts "fetch a transaction receipt by hash" so tests
// can substitute a fake RPC without a live chain.
type receiptFetcher func(ctx context.Context, txHash string) (*types.Receipt, error)

// Verifier fetches and validates fast-rail transaction receipts.
type Verifier struct {
	stablecoinContract common.Address
	caip2              string
	recorder           ProofRecorder
	fetch              receiptFetcher
	breakers           *circuitbreaker.Manager
}

// New constructs a Verifier bound to a single fast-rail RPC endpoint and
// stablecoin contract. breakers may be nil, in which case receipt fetches
// run unprotected.
func New(rpcURL, stablecoinContract, caip2 string, recorder ProofRecorder, breakers *circuitbreaker.Manager) *Verifier {
	v := &Verifier{
		stablecoinContract: common.HexToAddress(stablecoinContract),
		caip2:              caip2,
		recorder:           recorder,
		breakers:           breakers,
	}
	v.fetch = rpcReceiptFetcher(rpcURL)
	return v
}

// Verify runs the full 11-step algorithm from spec §4.G and returns a
// tagged VerificationResult.
func (v *Verifier) Verify(ctx context.Context, txHash, expectedRecipient string, expectedAmount *big.Int) verifyresult.Result {
	txHash = strings.ToLower(strings.TrimSpace(txHash))
	if !txHashPattern.MatchString(txHash) {
		return verifyresult.Invalid(verifyresult.ReasonMalformedProof)
	}

	expectedRecipient = strings.ToLower(strings.TrimSpace(expectedRecipient))
	if !addressPattern.MatchString(expectedRecipient) {
		return verifyresult.Invalid(verifyresult.ReasonMalformedProof)
	}

	receipt, err := v.fetchReceipt(ctx, txHash)
	if err != nil {
		if err == errReceiptNotFound {
			return verifyresult.Invalid(verifyresult.ReasonNotFound)
		}
		return verifyresult.Invalid(verifyresult.ReasonUpstreamUnavailable)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return verifyresult.Invalid(verifyresult.ReasonReverted)
	}

	recipientAddr := common.HexToAddress(expectedRecipient)
	total := new(big.Int)
	var payer string
	sawStablecoinLog := false
	sawTransferLog := false

	for _, l := range receipt.Logs {
		if !strings.EqualFold(l.Address.Hex(), v.stablecoinContract.Hex()) {
			continue
		}
		sawStablecoinLog = true

		from, to, value, ok := parseTransferLog(l)
		if !ok {
			continue
		}
		sawTransferLog = true

		if strings.EqualFold(to.Hex(), recipientAddr.Hex()) {
			total.Add(total, value)
			payer = strings.ToLower(from.Hex())
		}
	}

	if !sawStablecoinLog || !sawTransferLog {
		return verifyresult.Invalid(verifyresult.ReasonWrongToken)
	}
	if total.Sign() == 0 {
		return verifyresult.Invalid(verifyresult.ReasonWrongRecipient)
	}
	if total.Cmp(expectedAmount) < 0 {
		return verifyresult.Invalid(verifyresult.ReasonInsufficientAmount)
	}

	inserted, err := v.recorder.RecordProof(ctx, txHash, payer, expectedAmount, v.caip2)
	if err != nil {
		return verifyresult.Invalid(verifyresult.ReasonUpstreamUnavailable)
	}
	if !inserted {
		return verifyresult.Invalid(verifyresult.ReasonReplayed)
	}

	return verifyresult.Valid(payer)
}

// fetchReceipt runs v.fetch behind the fast-rail-RPC circuit breaker, for
// bulkhead isolation from the facilitator and upstream-dispatcher calls.
func (v *Verifier) fetchReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	if v.breakers == nil {
		return v.fetch(ctx, txHash)
	}
	raw, err := v.breakers.Execute(circuitbreaker.ServiceFastRailRPC, func() (interface{}, error) {
		return v.fetch(ctx, txHash)
	})
	if err != nil {
		return nil, err
	}
	return raw.(*types.Receipt), nil
}

var errReceiptNotFound = fmt.Errorf("onchain: receipt not found")

// rpcReceiptFetcher returns a receiptFetcher that dials rpcURL fresh for
// each call. go-ethereum's ethclient holds no connection pool worth
// reusing across verifications for a low-throughput rail like this one.
func rpcReceiptFetcher(rpcURL string) receiptFetcher {
	return func(ctx context.Context, txHash string) (*types.Receipt, error) {
		ctx, cancel := context.WithTimeout(ctx, receiptDeadline)
		defer cancel()

		client, err := ethclient.DialContext(ctx, rpcURL)
		if err != nil {
			return nil, fmt.Errorf("onchain: rpc dial: %w", err)
		}
		defer client.Close()

		receipt, err := client.TransactionReceipt(ctx, common.HexToHash(txHash))
		if err != nil {
			if err.Error() == "not found" {
				return nil, errReceiptNotFound
			}
			return nil, fmt.Errorf("onchain: fetch receipt: %w", err)
		}
		if receipt == nil {
			return nil, errReceiptNotFound
		}
		return receipt, nil
	}
}

// parseTransferLog decodes a log as an ERC-20 Transfer(address,address,uint256)
// event. Returns ok=false for any log whose topic0 doesn't match, or that
// doesn't have the expected shape.
func parseTransferLog(l *types.Log) (from, to common.Address, value *big.Int, ok bool) {
	if len(l.Topics) != 3 {
		return common.Address{}, common.Address{}, nil, false
	}
	if l.Topics[0] != transferTopic {
		return common.Address{}, common.Address{}, nil, false
	}
	if len(l.Data) < 32 {
		return common.Address{}, common.Address{}, nil, false
	}

	from = common.HexToAddress(l.Topics[1].Hex())
	to = common.HexToAddress(l.Topics[2].Hex())
	value = new(big.Int).SetBytes(l.Data[:32])
	return from, to, value, true
}
