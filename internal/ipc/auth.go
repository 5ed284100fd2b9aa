package ipc

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/filex"
)

// Claims are the registered JWT claims plus the client the token was
// issued to.
type Claims struct {
	jwt.RegisteredClaims
	Client string `json:"client"`
}

func GenerateToken(client string, secretKey []byte, validity time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    common.AppName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		Client: client,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// ParseToken checks signature and expiry and returns the client name.
func ParseToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(common.AppName))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", common.ErrInvalidToken
	}
	return claims.Client, nil
}

// IssueTokenFile signs a token for client and stores it at path with
// owner-only permissions, so only the same OS user can talk to the daemon.
func IssueTokenFile(path, client string, secretKey []byte, validity time.Duration) (string, error) {
	token, err := GenerateToken(client, secretKey, validity)
	if err != nil {
		return "", err
	}
	if err := filex.WriteSecretFile(path, []byte(token+"\n")); err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrIO, err)
	}
	return token, nil
}

func ReadTokenFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read token: %w", common.ErrIO, err)
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", fmt.Errorf("%w: empty token file %s", common.ErrInvalidToken, path)
	}
	return token, nil
}
