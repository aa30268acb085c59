package service_test

import (
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/evetabi/predex/internal/config"
	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signLogin(t *testing.T, key *ecdsa.PrivateKey, msg string) string {
	t.Helper()
	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(msg)), key)
	require.NoError(t, err)
	sig[64] += 27
	return hexutil.Encode(sig)
}

func newAuth(t *testing.T, admins ...string) (*service.AuthService, *fakeClock) {
	t.Helper()
	cfg := config.Defaults()
	cfg.JWT.AccessSecret = "test-secret"
	cfg.Admins = admins
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := service.NewAuthService(cfg)
	svc.SetClock(clock.Now)
	return svc, clock
}

func TestLogin_WalletSignature(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	addr := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	svc, clock := newAuth(t, addr)
	msg := service.LoginMessage(addr, clock.Now())

	resp, err := svc.Login(service.LoginRequest{Address: addr, Message: msg, Signature: signLogin(t, key, msg)})
	require.NoError(t, err)
	assert.Equal(t, domain.NormalizeAddress(addr), resp.Address)
	assert.True(t, resp.Admin)

	caller, err := svc.ParseAccessToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.NormalizeAddress(addr), caller.Address)
	assert.True(t, caller.Admin)

	_, err = svc.ParseAccessToken(resp.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid, "refresh tokens are not access tokens")

	access, refresh, err := svc.RefreshToken(resp.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, access)
	assert.NotEmpty(t, refresh)

	_, _, err = svc.RefreshToken(resp.AccessToken)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	clock.Advance(16 * time.Minute)
	_, err = svc.ParseAccessToken(resp.AccessToken)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid, "access tokens expire")
}

func TestLogin_Rejections(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	other, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	addr := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	svc, clock := newAuth(t)
	msg := service.LoginMessage(addr, clock.Now())

	cases := map[string]service.LoginRequest{
		"other signer":   {Address: addr, Message: msg, Signature: signLogin(t, other, msg)},
		"bad signature":  {Address: addr, Message: msg, Signature: "0x1234"},
		"wrong address":  {Address: alice, Message: msg, Signature: signLogin(t, key, msg)},
		"not an address": {Address: "bob", Message: msg, Signature: signLogin(t, key, msg)},
		"tampered":       {Address: addr, Message: msg + " ", Signature: signLogin(t, key, msg)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Login(req)
			assert.ErrorIs(t, err, domain.ErrUnauthorized)
		})
	}

	t.Run("stale message", func(t *testing.T) {
		stale := service.LoginMessage(addr, clock.Now().Add(-10*time.Minute))
		_, err := svc.Login(service.LoginRequest{Address: addr, Message: stale, Signature: signLogin(t, key, stale)})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("non-admin", func(t *testing.T) {
		resp, err := svc.Login(service.LoginRequest{Address: addr, Message: msg, Signature: signLogin(t, key, msg)})
		require.NoError(t, err)
		assert.False(t, resp.Admin)
	})
}

func TestIssueAccessToken_RoleGrantsAdmin(t *testing.T) {
	svc, _ := newAuth(t)
	tok, err := svc.IssueAccessToken(bob, "admin")
	require.NoError(t, err)
	caller, err := svc.ParseAccessToken(tok)
	require.NoError(t, err)
	assert.Equal(t, bob, caller.Address)
	assert.True(t, caller.Admin)

	_, err = svc.ParseAccessToken(tok + "x")
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
}
