package crypto_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/newmarketbot/internal/crypto"
)

// Well-known test key (hardhat account #0).
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testOrder(s *crypto.Signer) crypto.OrderPayload {
	return crypto.OrderPayload{
		Salt:          "12345",
		Maker:         s.Address().Hex(),
		Signer:        s.Address().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		MakerAmount:   "450000",
		TakerAmount:   "1000000",
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0,
		SignatureType: 0,
	}
}

func TestSigner_Address(t *testing.T) {
	s, err := crypto.NewSigner("0x"+testKey, 137)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", s.Address().Hex())
}

func TestSigner_SignOrderRecoversAddress(t *testing.T) {
	s, err := crypto.NewSigner(testKey, 137)
	require.NoError(t, err)

	order := testOrder(s)
	sigHex, err := s.SignOrder(order)
	require.NoError(t, err)

	sig, err := hexutil.Decode(sigHex)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	digest, err := s.OrderDigest(order)
	require.NoError(t, err)
	sig[64] -= 27
	pub, err := ethcrypto.SigToPub(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), ethcrypto.PubkeyToAddress(*pub))
}

func TestSigner_RejectsBadOrder(t *testing.T) {
	s, err := crypto.NewSigner(testKey, 137)
	require.NoError(t, err)

	order := testOrder(s)
	order.MakerAmount = "1.5"
	_, err = s.SignOrder(order)
	assert.Error(t, err)

	order = testOrder(s)
	order.Maker = "not-an-address"
	_, err = s.SignOrder(order)
	assert.Error(t, err)
}

func TestSigner_InvalidKey(t *testing.T) {
	_, err := crypto.NewSigner("zz", 137)
	assert.Error(t, err)
}

func TestHMACAuth_L2HeadersDeterministic(t *testing.T) {
	h := &crypto.HMACAuth{Key: "key-1", Secret: "c2VjcmV0LXNlY3JldC1zZWNyZXQ=", Passphrase: "pass"}

	a := h.L2HeadersAt("0xabc", "POST", "/order", `{"a":1}`, 1700000000)
	b := h.L2HeadersAt("0xabc", "POST", "/order", `{"a":1}`, 1700000000)
	c := h.L2HeadersAt("0xabc", "POST", "/order", `{"a":2}`, 1700000000)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a["POLY_SIGNATURE"], c["POLY_SIGNATURE"])
	assert.Equal(t, "1700000000", a["POLY_TIMESTAMP"])
	assert.Equal(t, "key-1", a["POLY_API_KEY"])
	assert.NotContains(t, h.String(), "secret-secret")
}

func TestKeyManager_RoundTrip(t *testing.T) {
	blob, err := crypto.EncryptKey("0x"+testKey, "correct horse")
	require.NoError(t, err)
	assert.Contains(t, string(blob), "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	key, err := crypto.LoadKey(crypto.KeyConfig{EncryptedKeyPath: path, KeyPassword: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, testKey, key)

	_, err = crypto.LoadKey(crypto.KeyConfig{EncryptedKeyPath: path, KeyPassword: "wrong"})
	assert.Error(t, err)
}

func TestLoadKey_Sources(t *testing.T) {
	key, err := crypto.LoadKey(crypto.KeyConfig{RawPrivateKey: "0x" + strings.ToUpper(testKey)})
	require.NoError(t, err)
	assert.Equal(t, testKey, key)

	_, err = crypto.LoadKey(crypto.KeyConfig{})
	assert.True(t, errors.Is(err, crypto.ErrNoKey))

	_, err = crypto.LoadKey(crypto.KeyConfig{RawPrivateKey: "abcd"})
	assert.Error(t, err)
}
