package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/evetabi/predex/internal/config"
	"github.com/evetabi/predex/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// ──────────────────────────────────────────────────────────────────────────────
// Request / Response types
// ──────────────────────────────────────────────────────────────────────────────

// LoginRequest is a wallet sign-in: Message was signed with personal_sign
// (EIP-191) by Address. See LoginMessage for the expected text.
type LoginRequest struct {
	Address   string `json:"address"   binding:"required"`
	Message   string `json:"message"   binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// LoginResponse is returned on successful login.
type LoginResponse struct {
	Address      string `json:"address"`
	Admin        bool   `json:"admin"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// TokenPair holds both tokens returned by generateTokenPair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// ──────────────────────────────────────────────────────────────────────────────
// JWT claims
// ──────────────────────────────────────────────────────────────────────────────

// AppClaims extends jwt.RegisteredClaims with application-specific fields.
// Subject is the lower-cased wallet address.
type AppClaims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	TokenType string `json:"type"` // "access" or "refresh"
}

// ──────────────────────────────────────────────────────────────────────────────
// AuthService
// ──────────────────────────────────────────────────────────────────────────────

// AuthService exchanges wallet signatures for JWTs and verifies them.
type AuthService struct {
	cfg *config.Config
	now func() time.Time
}

// NewAuthService creates an AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{cfg: cfg, now: time.Now}
}

// SetClock replaces the wall clock.
func (s *AuthService) SetClock(now func() time.Time) { s.now = now }

// LoginMessage is the text a wallet signs to log in.
func LoginMessage(address string, issuedAt time.Time) string {
	return fmt.Sprintf("Sign in to predex\nAddress: %s\nIssued At: %s",
		domain.NormalizeAddress(address), issuedAt.UTC().Format(time.RFC3339))
}

// ──────────────────────────────────────────────────────────────────────────────
// Login
// ──────────────────────────────────────────────────────────────────────────────

// Login checks that req.Message names req.Address, is recent, and was signed
// by that address, then returns a fresh token pair.
func (s *AuthService) Login(req LoginRequest) (*LoginResponse, error) {
	address := domain.NormalizeAddress(req.Address)
	if !common.IsHexAddress(address) {
		return nil, domain.ErrUnauthorized
	}

	issuedAt, err := parseLoginMessage(req.Message, address)
	if err != nil {
		return nil, domain.ErrUnauthorized
	}
	now := s.now().UTC()
	if issuedAt.After(now.Add(time.Minute)) || now.Sub(issuedAt) > s.cfg.JWT.LoginMaxAge {
		return nil, domain.ErrUnauthorized
	}

	signer, err := recoverSigner(req.Message, req.Signature)
	if err != nil || !strings.EqualFold(signer.Hex(), address) {
		return nil, domain.ErrUnauthorized
	}

	role := ""
	if s.cfg.IsAdmin(address) {
		role = s.cfg.JWT.AdminRole
	}
	pair, err := s.generateTokenPair(address, role)
	if err != nil {
		return nil, fmt.Errorf("auth_service.Login: tokens: %w", err)
	}
	return &LoginResponse{
		Address:      address,
		Admin:        role != "",
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// parseLoginMessage returns the Issued At time of a LoginMessage for address.
func parseLoginMessage(msg, address string) (time.Time, error) {
	lines := strings.Split(strings.ReplaceAll(msg, "\r\n", "\n"), "\n")
	if len(lines) != 3 || lines[0] != "Sign in to predex" {
		return time.Time{}, fmt.Errorf("unexpected login message")
	}
	addr, ok := strings.CutPrefix(lines[1], "Address: ")
	if !ok || domain.NormalizeAddress(addr) != address {
		return time.Time{}, fmt.Errorf("address mismatch")
	}
	ts, ok := strings.CutPrefix(lines[2], "Issued At: ")
	if !ok {
		return time.Time{}, fmt.Errorf("missing issued at")
	}
	return time.Parse(time.RFC3339, ts)
}

// recoverSigner returns the address that produced an EIP-191 signature.
func recoverSigner(msg, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, err
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes")
	}
	// Wallets return v in {27,28}; SigToPub expects {0,1}.
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash([]byte(msg)), sig)
	if err != nil {
		return common.Address{}, err
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// RefreshToken
// ──────────────────────────────────────────────────────────────────────────────

// RefreshToken validates a refresh token and issues a new token pair. The
// admin role is re-derived from configuration, not carried over.
func (s *AuthService) RefreshToken(refreshToken string) (string, string, error) {
	claims, err := s.parseToken(refreshToken)
	if err != nil {
		return "", "", domain.ErrTokenInvalid
	}
	if claims.TokenType != "refresh" || claims.Subject == "" {
		return "", "", domain.ErrTokenInvalid
	}
	role := ""
	if s.cfg.IsAdmin(claims.Subject) {
		role = s.cfg.JWT.AdminRole
	}
	pair, err := s.generateTokenPair(claims.Subject, role)
	if err != nil {
		return "", "", fmt.Errorf("auth_service.RefreshToken: %w", err)
	}
	return pair.AccessToken, pair.RefreshToken, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Token helpers
// ──────────────────────────────────────────────────────────────────────────────

// IssueAccessToken signs an access token for address. Used by tests and by
// the backoffice to mint operator tokens.
func (s *AuthService) IssueAccessToken(address, role string) (string, error) {
	pair, err := s.generateTokenPair(domain.NormalizeAddress(address), role)
	return pair.AccessToken, err
}

// generateTokenPair creates a signed access token (AccessTTL) and a signed
// refresh token (RefreshTTL) for the given address.
func (s *AuthService) generateTokenPair(address, role string) (TokenPair, error) {
	now := s.now().UTC()
	secret := []byte(s.cfg.JWT.AccessSecret) // same secret for both; type claim differentiates

	accessClaims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   address,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWT.AccessTTL)),
		},
		Role:      role,
		TokenType: "access",
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(secret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	refreshClaims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   address,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWT.RefreshTTL)),
		},
		TokenType: "refresh",
	}
	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString(secret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// parseToken validates the token signature, algorithm, and expiry.
func (s *AuthService) parseToken(tokenString string) (*AppClaims, error) {
	secret := []byte(s.cfg.JWT.AccessSecret)
	tok, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !tok.Valid {
		return nil, domain.ErrTokenInvalid
	}
	claims, ok := tok.Claims.(*AppClaims)
	if !ok {
		return nil, domain.ErrTokenInvalid
	}
	return claims, nil
}

// ParseAccessToken verifies an access token and returns the caller it names.
// Admin is set by the role claim or the configured admin list.
func (s *AuthService) ParseAccessToken(tokenString string) (domain.Caller, error) {
	claims, err := s.parseToken(tokenString)
	if err != nil {
		return domain.Caller{}, err
	}
	if claims.TokenType == "refresh" || claims.Subject == "" {
		return domain.Caller{}, domain.ErrTokenInvalid
	}
	addr := domain.NormalizeAddress(claims.Subject)
	admin := (claims.Role != "" && claims.Role == s.cfg.JWT.AdminRole) || s.cfg.IsAdmin(addr)
	return domain.Caller{Address: addr, Admin: admin}, nil
}
