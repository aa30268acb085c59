package postgres

import (
	"errors"
	"strings"
	"testing"

	"github.com/evetabi/predex/internal/domain"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapErr(t *testing.T) {
	cases := []struct {
		code     pq.ErrorCode
		conflict bool
	}{
		{"23505", true},
		{"40001", true},
		{"40P01", true},
		{"23503", false},
	}
	for _, tc := range cases {
		err := mapErr("op", &pq.Error{Code: tc.code, Message: "x"})
		assert.Equal(t, tc.conflict, errors.Is(err, domain.ErrConflict), "code %s", tc.code)
		assert.True(t, strings.HasPrefix(err.Error(), "op: "))
	}

	plain := errors.New("network down")
	assert.ErrorIs(t, mapErr("op", plain), plain)
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrations.ReadFile("migrations/001_init.sql")
	require.NoError(t, err)
	sql := string(data)
	for _, table := range []string{
		"markets", "market_options", "balances", "positions", "orders", "lp_shares",
		"resolution_proposals", "resolution_challenges", "settlement_ledger", "deposits",
	} {
		assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS "+table+" ")
	}
	assert.Contains(t, sql, "resolution_proposals_active_uidx")
}
