package utils

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var maintenanceSecret = []byte("change-me-in-production")

type MaintenanceClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

const maintenanceScope = "maintenance"

func ConfigureMaintenanceAuth(secret string) {
	if secret != "" {
		maintenanceSecret = []byte(secret)
	}
}

// GenerateMaintenanceToken mints a short-lived token for the administrative
// endpoints (cleanup sweep). Operators mint these out of band.
func GenerateMaintenanceToken(ttl time.Duration) (string, error) {
	claims := MaintenanceClaims{
		Scope: maintenanceScope,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   "maintenance",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(maintenanceSecret)
}

func ValidateMaintenanceToken(tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &MaintenanceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return maintenanceSecret, nil
	})
	if err != nil {
		return err
	}

	claims, ok := token.Claims.(*MaintenanceClaims)
	if !ok || !token.Valid || claims.Scope != maintenanceScope {
		return fmt.Errorf("invalid maintenance token")
	}

	return nil
}
