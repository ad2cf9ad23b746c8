// Package chain reads ERC-20 USDC balances directly from Polygon RPC
// endpoints. It is the last-resort balance source.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

// Default Polygon USDC token contracts.
const (
	NativeUSDC  = "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"
	BridgedUSDC = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
)

const erc20BalanceABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

// usdcUnit is 10^6, the USDC decimal scale.
var usdcUnit = big.NewFloat(1e6)

// ContractCaller is the subset of ethclient.Client the reader needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// DialFunc opens a caller for an RPC endpoint.
type DialFunc func(ctx context.Context, rawURL string) (ContractCaller, error)

func dialEthClient(ctx context.Context, rawURL string) (ContractCaller, error) {
	return ethclient.DialContext(ctx, rawURL)
}

// USDCReader sums USDC balances across token contracts, trying each RPC
// endpoint in order until one answers with a non-zero balance.
type USDCReader struct {
	endpoints []string
	contracts []common.Address
	erc20     abi.ABI
	dial      DialFunc
	timeout   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	clients map[string]ContractCaller
}

// NewUSDCReader creates a reader. A nil dial uses go-ethereum's ethclient.
func NewUSDCReader(endpoints, contracts []string, dial DialFunc, logger *slog.Logger) (*USDCReader, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20BalanceABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse erc20 abi: %w", err)
	}
	if len(contracts) == 0 {
		contracts = []string{NativeUSDC, BridgedUSDC}
	}
	addrs := make([]common.Address, 0, len(contracts))
	for _, c := range contracts {
		if !common.IsHexAddress(c) {
			return nil, fmt.Errorf("chain: invalid contract address %q", c)
		}
		addrs = append(addrs, common.HexToAddress(c))
	}
	if dial == nil {
		dial = dialEthClient
	}
	return &USDCReader{
		endpoints: endpoints,
		contracts: addrs,
		erc20:     parsed,
		dial:      dial,
		timeout:   10 * time.Second,
		logger:    logger.With(slog.String("component", "chain")),
		clients:   make(map[string]ContractCaller),
	}, nil
}

// USDCBalance returns the owner's USDC balance summed over all configured
// contracts. It fails only when no endpoint answered for any contract.
func (r *USDCReader) USDCBalance(ctx context.Context, owner string) (float64, error) {
	if !common.IsHexAddress(owner) {
		return 0, fmt.Errorf("chain: invalid owner address %q", owner)
	}
	data, err := r.erc20.Pack("balanceOf", common.HexToAddress(owner))
	if err != nil {
		return 0, fmt.Errorf("chain: pack balanceOf: %w", err)
	}

	total := new(big.Int)
	answered := false
	for _, contract := range r.contracts {
		bal, ok := r.balanceAt(ctx, contract, data)
		if !ok {
			continue
		}
		answered = true
		total.Add(total, bal)
	}
	if !answered {
		return 0, fmt.Errorf("chain: no rpc endpoint answered: %w", domain.ErrTransientNetwork)
	}

	usdc, _ := new(big.Float).Quo(new(big.Float).SetInt(total), usdcUnit).Float64()
	return usdc, nil
}

// balanceAt tries each endpoint until one returns a non-zero balance. ok is
// true when at least one endpoint answered.
func (r *USDCReader) balanceAt(ctx context.Context, contract common.Address, data []byte) (*big.Int, bool) {
	answered := false
	for _, endpoint := range r.endpoints {
		client, err := r.client(ctx, endpoint)
		if err != nil {
			r.logger.DebugContext(ctx, "chain: dial failed",
				slog.String("endpoint", endpoint),
				slog.String("error", err.Error()),
			)
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		out, err := client.CallContract(callCtx, ethereum.CallMsg{To: &contract, Data: data}, nil)
		cancel()
		if err != nil {
			r.logger.DebugContext(ctx, "chain: balanceOf failed",
				slog.String("endpoint", endpoint),
				slog.String("contract", contract.Hex()),
				slog.String("error", err.Error()),
			)
			r.drop(endpoint)
			continue
		}

		values, err := r.erc20.Unpack("balanceOf", out)
		if err != nil || len(values) != 1 {
			continue
		}
		bal, ok := values[0].(*big.Int)
		if !ok {
			continue
		}
		answered = true
		if bal.Sign() > 0 {
			return bal, true
		}
	}
	return new(big.Int), answered
}

func (r *USDCReader) client(ctx context.Context, endpoint string) (ContractCaller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[endpoint]; ok {
		return c, nil
	}
	c, err := r.dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	r.clients[endpoint] = c
	return c, nil
}

func (r *USDCReader) drop(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[endpoint]; ok {
		c.Close()
		delete(r.clients, endpoint)
	}
}

// Close releases all cached RPC clients.
func (r *USDCReader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for endpoint, c := range r.clients {
		c.Close()
		delete(r.clients, endpoint)
	}
}
