package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// ReceiptSource fetches a receipt. A nil receipt with a nil error means the
// transaction is not mined yet.
type ReceiptSource interface {
	Receipt(ctx context.Context, hash common.Hash) (*Receipt, error)
}

// ProviderReceipts reads receipts through the wallet provider, keeping the
// status exactly as the provider encodes it.
type ProviderReceipts struct {
	Requester Requester
}

type rawReceipt struct {
	TransactionHash common.Hash     `json:"transactionHash"`
	Status          any             `json:"status"`
	BlockNumber     *hexutil.Uint64 `json:"blockNumber"`
}

// Receipt implements ReceiptSource.
func (p ProviderReceipts) Receipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	if p.Requester == nil {
		return nil, fmt.Errorf("receipt requester not configured")
	}
	raw, err := p.Requester.Request(ctx, "eth_getTransactionReceipt", hash)
	if err != nil {
		return nil, fmt.Errorf("fetch receipt: %w", err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var decoded rawReceipt
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	receipt := &Receipt{TxHash: hash, Status: decoded.Status}
	if decoded.BlockNumber != nil {
		receipt.BlockNumber = uint64(*decoded.BlockNumber)
	}
	return receipt, nil
}

// ReceiptClient is the subset of ethclient used by ClientReceipts.
type ReceiptClient interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// ClientReceipts reads typed receipts from a ledger node; the status is the
// numeric go-ethereum encoding.
type ClientReceipts struct {
	Client ReceiptClient
}

// Receipt implements ReceiptSource.
func (c ClientReceipts) Receipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	if c.Client == nil {
		return nil, fmt.Errorf("receipt client not configured")
	}
	receipt, err := c.Client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch receipt: %w", err)
	}
	if receipt == nil {
		return nil, nil
	}
	out := &Receipt{TxHash: hash, Status: receipt.Status}
	if receipt.BlockNumber != nil && receipt.BlockNumber.IsUint64() {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return out, nil
}
