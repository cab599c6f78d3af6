package secret

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTTokenSource mints short-lived HMAC-signed bearer tokens from an
// "id.secret" style API key, the scheme used by providers that refuse
// long-lived static keys on the wire (Zhipu-style auth). Tokens are
// reused until shortly before expiry.
type JWTTokenSource struct {
	keyID  string
	secret []byte
	ttl    time.Duration

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewJWTTokenSource splits apiKey on the last '.' into key id and
// signing secret.
func NewJWTTokenSource(apiKey string, ttl time.Duration) (*JWTTokenSource, error) {
	idx := strings.LastIndex(apiKey, ".")
	if idx <= 0 || idx == len(apiKey)-1 {
		return nil, fmt.Errorf("api key is not in id.secret form")
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &JWTTokenSource{
		keyID:  apiKey[:idx],
		secret: []byte(apiKey[idx+1:]),
		ttl:    ttl,
	}, nil
}

// Token implements provider.TokenSource.
func (j *JWTTokenSource) Token() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	// Reuse until 30s before expiry.
	if j.token != "" && time.Until(j.expiresAt) > 30*time.Second {
		return j.token, nil
	}

	now := time.Now()
	exp := now.Add(j.ttl)
	claims := jwt.MapClaims{
		"api_key":   j.keyID,
		"exp":       exp.UnixMilli(),
		"timestamp": now.UnixMilli(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["sign_type"] = "SIGN"

	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	j.token = signed
	j.expiresAt = exp
	return signed, nil
}
