package txbuilder

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/hexlane/dexarb/internal/config"
	"github.com/hexlane/dexarb/internal/domain"
)

// Calldata layout of the on-chain executor. Each leg names the pool, the
// swap direction and whether the concentrated-liquidity path applies.
const executorABIJSON = `[{
	"name": "executeArbitrage",
	"type": "function",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "provider", "type": "uint8"},
		{"name": "asset", "type": "address"},
		{"name": "amount", "type": "uint256"},
		{"name": "legs", "type": "tuple[]", "components": [
			{"name": "pool", "type": "address"},
			{"name": "tokenIn", "type": "address"},
			{"name": "tokenOut", "type": "address"},
			{"name": "feeTier", "type": "uint24"},
			{"name": "concentrated", "type": "bool"}
		]}
	],
	"outputs": []
}]`

const providerBalancerID, providerAaveID = 0, 1

type executorLeg struct {
	Pool         common.Address
	TokenIn      common.Address
	TokenOut     common.Address
	FeeTier      *big.Int
	Concentrated bool
}

// PrivateSender submits a raw transaction to a private relay. Implemented by
// *gethrpc.Client dialed against the relay URL; nil disables the private path.
type PrivateSender interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// Builder signs and submits flashloan arbitrage transactions. Submissions go
// to the private relay first so pending transactions never reach the public
// mempool; the public path is the fallback when the relay is down.
type Builder struct {
	node    NodeCaller
	relay   PrivateSender
	cfg     config.ChainConfig
	confirm time.Duration
	logger  *slog.Logger

	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address
	chainID  *big.Int
	executor abi.ABI
}

// NewBuilder parses the wallet key and executor ABI. The relay connection is
// dialed lazily on first use.
func NewBuilder(node NodeCaller, chain config.ChainConfig, gas config.GasConfig, logger *slog.Logger) (*Builder, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(chain.WalletPrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("txbuilder: parse wallet key: %w", err)
	}
	if !common.IsHexAddress(chain.FlashloanContract) {
		return nil, fmt.Errorf("txbuilder: invalid flashloan contract address %q", chain.FlashloanContract)
	}
	executor, err := abi.JSON(strings.NewReader(executorABIJSON))
	if err != nil {
		return nil, fmt.Errorf("txbuilder: parse executor abi: %w", err)
	}
	return &Builder{
		node:     node,
		cfg:      chain,
		confirm:  gas.ConfirmTimeout.Duration,
		logger:   logger.With(slog.String("component", "txbuilder")),
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		contract: common.HexToAddress(chain.FlashloanContract),
		chainID:  big.NewInt(chain.ChainID),
		executor: executor,
	}, nil
}

// SetPrivateSender injects the relay client, replacing the lazy dial.
func (b *Builder) SetPrivateSender(s PrivateSender) {
	b.relay = s
}

// From returns the wallet address transactions are sent from.
func (b *Builder) From() common.Address {
	return b.from
}

// Build turns an approved plan into a signed EIP-1559 transaction.
func (b *Builder) Build(ctx context.Context, plan *domain.ExecutionPlan) (*types.Transaction, error) {
	if len(plan.Opportunity.Legs) == 0 {
		return nil, fmt.Errorf("txbuilder: plan has no legs")
	}
	first := plan.Opportunity.Legs[0]
	asset, err := tokenAddress(first.Pool, first.TokenIn)
	if err != nil {
		return nil, err
	}
	if first.AmountIn == nil || first.AmountIn.Sign() <= 0 {
		return nil, fmt.Errorf("txbuilder: plan has no loan amount")
	}

	legs := make([]executorLeg, 0, len(plan.Opportunity.Legs))
	for _, leg := range plan.Opportunity.Legs {
		in, err := tokenAddress(leg.Pool, leg.TokenIn)
		if err != nil {
			return nil, err
		}
		out, err := tokenAddress(leg.Pool, leg.TokenOut)
		if err != nil {
			return nil, err
		}
		feeTier := leg.Pool.FeeBps * 100
		if leg.Pool.Kind == domain.AMMKindV3 {
			feeTier = leg.Pool.FeeHundredthsBip
		}
		legs = append(legs, executorLeg{
			Pool:         leg.Pool.PoolAddress,
			TokenIn:      in,
			TokenOut:     out,
			FeeTier:      big.NewInt(feeTier),
			Concentrated: leg.Pool.Kind == domain.AMMKindV3,
		})
	}

	providerID := uint8(providerBalancerID)
	if plan.Provider == domain.ProviderAave {
		providerID = providerAaveID
	}
	data, err := b.executor.Pack("executeArbitrage", providerID, asset, first.AmountIn, legs)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: pack calldata: %w", err)
	}

	nonce, err := b.pendingNonce(ctx)
	if err != nil {
		return nil, err
	}
	plan.Nonce = nonce

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   b.chainID,
		Nonce:     nonce,
		GasTipCap: plan.MaxPriorityFeePerGas,
		GasFeeCap: plan.MaxFeePerGas,
		Gas:       plan.GasLimit,
		To:        &b.contract,
		Value:     big.NewInt(0),
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(b.chainID), b.key)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: sign: %w", err)
	}
	return signed, nil
}

// Submit sends a signed transaction, preferring the private relay.
func (b *Builder) Submit(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("txbuilder: encode: %w", err)
	}
	rawHex := hexutil.Encode(raw)

	if relay := b.privateSender(); relay != nil {
		var hash common.Hash
		err := relay.CallContext(ctx, &hash, "eth_sendPrivateTransaction",
			map[string]any{"tx": rawHex})
		if err == nil {
			b.logger.Info("submitted via private relay", slog.String("tx", hash.Hex()))
			return hash, nil
		}
		b.logger.Warn("private relay rejected transaction, falling back to public submission",
			slog.String("error", err.Error()))
	}

	var hash common.Hash
	if err := b.node.Call(ctx, &hash, "eth_sendRawTransaction", rawHex); err != nil {
		return common.Hash{}, fmt.Errorf("txbuilder: send: %w", err)
	}
	b.logger.Info("submitted via public mempool", slog.String("tx", hash.Hex()))
	return hash, nil
}

// WaitReceipt polls for the transaction receipt until the confirm timeout.
// A mined receipt with status 0 returns ErrExecutionReverted.
func (b *Builder) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, b.confirm)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		var receipt *types.Receipt
		err := b.node.Call(ctx, &receipt, "eth_getTransactionReceipt", hash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, fmt.Errorf("txbuilder: tx %s: %w", hash.Hex(), domain.ErrExecutionReverted)
			}
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("txbuilder: confirm %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (b *Builder) pendingNonce(ctx context.Context) (uint64, error) {
	var nonce hexutil.Uint64
	if err := b.node.Call(ctx, &nonce, "eth_getTransactionCount", b.from, "pending"); err != nil {
		return 0, fmt.Errorf("txbuilder: nonce: %w", err)
	}
	return uint64(nonce), nil
}

func (b *Builder) privateSender() PrivateSender {
	if b.relay != nil {
		return b.relay
	}
	if b.cfg.PrivateRelayURL == "" {
		return nil
	}
	client, err := gethrpc.Dial(b.cfg.PrivateRelayURL)
	if err != nil {
		b.logger.Warn("private relay dial failed", slog.String("error", err.Error()))
		return nil
	}
	b.relay = client
	return b.relay
}

func tokenAddress(p domain.PoolRecord, symbol string) (common.Address, error) {
	switch symbol {
	case p.Token0:
		return p.Token0Address, nil
	case p.Token1:
		return p.Token1Address, nil
	}
	return common.Address{}, fmt.Errorf("txbuilder: token %s not in pool %s", symbol, p.CacheKey())
}
