package utils

import (
	"fmt"
	"os"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// OperatorClaim identifies the human operator behind an admin request.
type OperatorClaim struct {
	Operator string `json:"operator"`
	Role     string `json:"role"`
	jwt.StandardClaims
}

func jwtSecret() []byte {
	secret := os.Getenv("API_SECRET")
	if secret == "" {
		return []byte("menu-resolver-secret")
	}
	return []byte(secret)
}

func JwtGenerate(operator string, role string, lifespan time.Duration) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &OperatorClaim{
		Operator: operator,
		Role:     role,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(lifespan).Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	})

	token, err := t.SignedString(jwtSecret())
	if err != nil {
		return "", err
	}

	return token, nil
}

func JwtValidate(token string) (*OperatorClaim, error) {
	parsed, err := jwt.ParseWithClaims(token, &OperatorClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return jwtSecret(), nil
	})
	if err != nil {
		return nil, err
	}
	claim, ok := parsed.Claims.(*OperatorClaim)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claim.Operator == "" {
		return nil, fmt.Errorf("token has no operator")
	}
	return claim, nil
}
