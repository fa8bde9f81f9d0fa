package myjwt

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrKeyEmpty = errors.New("jwt key is empty")

type CustomClaims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

// Signer 签发与校验运维接口使用的 HS256 token
type Signer struct {
	key    []byte
	issuer string
	expire time.Duration
}

func NewSigner(key, issuer string, expireHours int) (*Signer, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrKeyEmpty
	}
	if expireHours <= 0 {
		expireHours = 24
	}
	return &Signer{key: []byte(key), issuer: issuer, expire: time.Duration(expireHours) * time.Hour}, nil
}

func (s *Signer) GenerateToken(operator string) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expire)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

func (s *Signer) ParseToken(tokenString string) (*CustomClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.key, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
