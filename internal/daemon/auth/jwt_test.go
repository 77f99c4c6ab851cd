// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateJWT_HS256(t *testing.T) {
	secret := []byte("test-secret-key-32-bytes-long!!")
	cfg := JWTConfig{
		Secret: secret,
		Issuer: "powerd",
	}

	// Generate a valid token
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "powerd",
			Subject:   "ops-console",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
		},
		UserID: "ops-console",
		Scopes: []string{"shutdown", "reboot"},
	}

	tokenString, err := GenerateJWT(claims, cfg)
	require.NoError(t, err)

	// Validate the token
	parsedClaims, err := ValidateJWT(tokenString, cfg)
	require.NoError(t, err)
	assert.Equal(t, "ops-console", parsedClaims.UserID)
	assert.Equal(t, []string{"shutdown", "reboot"}, parsedClaims.Scopes)
	assert.Equal(t, "powerd", parsedClaims.Issuer)
}

func TestValidateJWT_EdDSA(t *testing.T) {
	// Generate Ed25519 key pair
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	cfg := JWTConfig{
		PublicKey:  pub,
		PrivateKey: priv,
		Issuer:     "powerd",
	}

	// Generate a valid token
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "powerd",
			Subject:   "fleet-agent",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
		},
		UserID: "fleet-agent",
		Scopes: []string{"reboot"},
	}

	tokenString, err := GenerateJWT(claims, cfg)
	require.NoError(t, err)

	// Validate the token
	parsedClaims, err := ValidateJWT(tokenString, cfg)
	require.NoError(t, err)
	assert.Equal(t, "fleet-agent", parsedClaims.UserID)
	assert.Equal(t, []string{"reboot"}, parsedClaims.Scopes)
}

func TestValidateJWT_ExpiredToken(t *testing.T) {
	secret := []byte("test-secret-key-32-bytes-long!!")
	cfg := JWTConfig{
		Secret: secret,
	}

	// Generate an expired token
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-1 * time.Hour)),
		},
		UserID: "ops-console",
	}

	tokenString, err := GenerateJWT(claims, cfg)
	require.NoError(t, err)

	// Validation should fail
	_, err = ValidateJWT(tokenString, cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateJWT_InvalidIssuer(t *testing.T) {
	secret := []byte("test-secret-key-32-bytes-long!!")
	cfg := JWTConfig{
		Secret: secret,
		Issuer: "powerd",
	}

	// Generate token with wrong issuer
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "somebody-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
		},
		UserID: "ops-console",
	}

	tokenString, err := GenerateJWT(claims, cfg)
	require.NoError(t, err)

	// Validation should fail
	_, err = ValidateJWT(tokenString, cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid issuer")
}

func TestValidateJWT_WrongSecret(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
		},
		UserID: "ops-console",
	}

	tokenString, err := GenerateJWT(claims, JWTConfig{Secret: []byte("secret-a-32-bytes-long-padding!")})
	require.NoError(t, err)

	_, err = ValidateJWT(tokenString, JWTConfig{Secret: []byte("secret-b-32-bytes-long-padding!")})
	assert.Error(t, err)
}

func TestValidateJWT_ClockSkew(t *testing.T) {
	secret := []byte("test-secret-key-32-bytes-long!!")
	cfg := JWTConfig{
		Secret:    secret,
		ClockSkew: 5 * time.Minute,
	}

	// Generate token that's slightly expired but within clock skew
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-2 * time.Minute)),
		},
		UserID: "ops-console",
	}

	tokenString, err := GenerateJWT(claims, cfg)
	require.NoError(t, err)

	// Should succeed due to clock skew
	parsedClaims, err := ValidateJWT(tokenString, cfg)
	require.NoError(t, err)
	assert.Equal(t, "ops-console", parsedClaims.UserID)
}

func TestGenerateJWT_DefaultExpiration(t *testing.T) {
	secret := []byte("test-secret-key-32-bytes-long!!")
	cfg := JWTConfig{
		Secret: secret,
	}

	claims := Claims{
		UserID: "ops-console",
	}

	tokenString, err := GenerateJWT(claims, cfg)
	require.NoError(t, err)

	// Validate and check expiration was set
	parsedClaims, err := ValidateJWT(tokenString, cfg)
	require.NoError(t, err)
	assert.NotNil(t, parsedClaims.ExpiresAt)
	assert.True(t, parsedClaims.ExpiresAt.After(time.Now()))
}
