package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const tokenSeparator = "|"

var tokenEncoding = base64.RawURLEncoding.Strict()

// AccessGrant é o conteúdo de um token válido
type AccessGrant struct {
	Email     string
	ItemIDs   []string
	ChargeID  string
	ExpiresAt time.Time
}

// TokenIssuer emite e valida tokens de acesso assinados, sem estado no servidor.
//
// Formato: base64url("email|ids-ordenados|expiraEmMillis[|chargeId]|hmacHex").
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer cria o emissor com o segredo compartilhado
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Mint gera um token válido por ttl a partir de agora
func (t *TokenIssuer) Mint(email string, itemIDs []string, chargeID string) (string, error) {
	if email == "" || strings.Contains(email, tokenSeparator) {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	ids := make([]string, 0, len(itemIDs))
	for _, id := range itemIDs {
		if strings.ContainsAny(id, tokenSeparator+",") {
			return "", fmt.Errorf("%w: item id %q", ErrUnknownItem, id)
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	if strings.Contains(chargeID, tokenSeparator) {
		return "", fmt.Errorf("invalid charge id %q", chargeID)
	}

	expiresAt := t.now().Add(t.ttl).UnixMilli()
	fields := []string{
		email,
		strings.Join(sortedCopy(ids), ","),
		strconv.FormatInt(expiresAt, 10),
	}
	if chargeID != "" {
		fields = append(fields, chargeID)
	}

	payload := strings.Join(fields, tokenSeparator)
	signed := payload + tokenSeparator + t.sign(payload)
	return tokenEncoding.EncodeToString([]byte(signed)), nil
}

// Redeem valida assinatura e validade do token
func (t *TokenIssuer) Redeem(token string) (*AccessGrant, error) {
	raw, err := tokenEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed encoding", ErrTamperedToken)
	}

	signed := string(raw)
	cut := strings.LastIndex(signed, tokenSeparator)
	if cut < 0 {
		return nil, fmt.Errorf("%w: missing signature", ErrTamperedToken)
	}
	payload, mac := signed[:cut], signed[cut+1:]

	if !hmac.Equal([]byte(mac), []byte(t.sign(payload))) {
		return nil, ErrTamperedToken
	}

	fields := strings.Split(payload, tokenSeparator)
	if len(fields) != 3 && len(fields) != 4 {
		return nil, fmt.Errorf("%w: unexpected field count", ErrTamperedToken)
	}

	expiresMillis, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad expiry", ErrTamperedToken)
	}
	expiresAt := time.UnixMilli(expiresMillis)
	if t.now().After(expiresAt) {
		return nil, ErrExpired
	}

	grant := &AccessGrant{
		Email:     fields[0],
		ExpiresAt: expiresAt,
	}
	if fields[1] != "" {
		grant.ItemIDs = strings.Split(fields[1], ",")
	}
	if len(fields) == 4 {
		grant.ChargeID = fields[3]
	}
	return grant, nil
}

func (t *TokenIssuer) sign(payload string) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
