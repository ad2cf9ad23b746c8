package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

const owner = "0x190Cc00825739D2a20DA3036a8D85419342C84E0"

type fakeCaller struct {
	balances map[string]*big.Int // contract hex -> balance
	err      error
	calls    int
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	parsed, err := abi.JSON(strings.NewReader(erc20BalanceABI))
	if err != nil {
		return nil, err
	}
	bal := new(big.Int)
	for contract, v := range f.balances {
		if strings.EqualFold(contract, msg.To.Hex()) {
			bal = v
		}
	}
	return parsed.Methods["balanceOf"].Outputs.Pack(bal)
}

func (f *fakeCaller) Close() {}

func newTestReader(t *testing.T, callers map[string]*fakeCaller) *USDCReader {
	t.Helper()
	endpoints := []string{"rpc-a", "rpc-b"}
	dial := func(_ context.Context, url string) (ContractCaller, error) {
		c, ok := callers[url]
		if !ok {
			return nil, errors.New("unreachable")
		}
		return c, nil
	}
	r, err := NewUSDCReader(endpoints, nil, dial, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return r
}

func TestUSDCBalance_SumsContracts(t *testing.T) {
	a := &fakeCaller{balances: map[string]*big.Int{
		NativeUSDC:  big.NewInt(12_500_000),
		BridgedUSDC: big.NewInt(500_000),
	}}
	r := newTestReader(t, map[string]*fakeCaller{"rpc-a": a})

	bal, err := r.USDCBalance(context.Background(), owner)
	require.NoError(t, err)
	assert.InDelta(t, 13.0, bal, 1e-9)
}

func TestUSDCBalance_FallsThroughZeroAndFailingEndpoints(t *testing.T) {
	a := &fakeCaller{err: errors.New("rpc timeout")}
	b := &fakeCaller{balances: map[string]*big.Int{NativeUSDC: big.NewInt(7_000_000)}}
	r := newTestReader(t, map[string]*fakeCaller{"rpc-a": a, "rpc-b": b})

	bal, err := r.USDCBalance(context.Background(), owner)
	require.NoError(t, err)
	assert.InDelta(t, 7.0, bal, 1e-9)
	assert.Equal(t, 2, b.calls)
}

func TestUSDCBalance_AllEndpointsDown(t *testing.T) {
	r := newTestReader(t, map[string]*fakeCaller{})

	_, err := r.USDCBalance(context.Background(), owner)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransientNetwork))
}

func TestUSDCBalance_InvalidOwner(t *testing.T) {
	r := newTestReader(t, map[string]*fakeCaller{})
	_, err := r.USDCBalance(context.Background(), "nope")
	assert.Error(t, err)
}
