package dex

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"positionScope/internal/chain"
	"positionScope/internal/model"
)

// TokenCache memoizes token metadata for the lifetime of one sync run.
// Failed fetches are not cached, so the next lookup retries the chain.
type TokenCache struct {
	caller chain.Caller
	logger *zap.Logger

	mu   sync.RWMutex
	data map[common.Address]model.Token
}

func NewTokenCache(caller chain.Caller, logger *zap.Logger) *TokenCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenCache{
		caller: caller,
		logger: logger,
		data:   make(map[common.Address]model.Token),
	}
}

func (c *TokenCache) Get(address common.Address) (model.Token, bool) {
	c.mu.RLock()
	meta, ok := c.data[address]
	c.mu.RUnlock()
	return meta, ok
}

func (c *TokenCache) Set(address common.Address, meta model.Token) {
	c.mu.Lock()
	c.data[address] = meta
	c.mu.Unlock()
}

// Token returns cached metadata or fetches it from chain. Concurrent misses
// for the same address may both fetch; the results are identical.
func (c *TokenCache) Token(ctx context.Context, address common.Address) (model.Token, error) {
	if meta, ok := c.Get(address); ok {
		return meta, nil
	}
	meta, err := FetchToken(ctx, c.caller, address, c.logger)
	if err != nil {
		return meta, err
	}
	c.Set(address, meta)
	return meta, nil
}

// FetchToken loads token metadata via ERC20 calls. Only decimals is required;
// symbol and name fall back to their bytes32 form and are otherwise left empty.
func FetchToken(ctx context.Context, caller chain.Caller, token common.Address, logger *zap.Logger) (model.Token, error) {
	meta := model.Token{Address: token.Hex()}

	stringABI, err := ERC20ABI()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	bytes32ABI, err := erc20ABIBytes32Instance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	values, err := callMethod(ctx, caller, token, stringABI, "decimals")
	if err != nil {
		return meta, err
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return meta, err
	}
	meta.Decimals = decimals

	meta.Symbol = fetchText(ctx, caller, token, "symbol", stringABI, bytes32ABI, logger)
	meta.Name = fetchText(ctx, caller, token, "name", stringABI, bytes32ABI, logger)

	return meta, nil
}

func fetchText(ctx context.Context, caller chain.Caller, token common.Address, method string, stringABI, bytes32ABI abi.ABI, logger *zap.Logger) string {
	values, err := callMethod(ctx, caller, token, stringABI, method)
	if err == nil {
		if text, ok := values[0].(string); ok {
			return text
		}
	}
	if values, err := callMethod(ctx, caller, token, bytes32ABI, method); err == nil {
		if text, ok := bytes32ToString(values[0]); ok {
			return text
		}
	}
	if logger != nil {
		logger.Debug("token text call failed", zap.String("token", token.Hex()), zap.String("method", method), zap.Error(err))
	}
	return ""
}
