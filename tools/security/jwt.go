package security

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/nadeko0/wirechat/tools/errs"
)

// Options controls signing and token lifetime.
type Options struct {
	Secret []byte        // HMAC key
	TTL    time.Duration // token validity (default 7 days)
}

const defaultTTL = 7 * 24 * time.Hour

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, TTL: defaultTTL}
}

// Mint issues an HS256 session token carrying the user id.
func Mint(opts Options, userID int64) (token string, expireAt time.Time, err error) {
	if opts.TTL == 0 {
		opts.TTL = defaultTTL
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		"user_id": userID,
		"iat":     now.Unix(),
		"exp":     exp.Unix(),
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign session token")
	}
	return signed, exp, nil
}

// Verify parses a session token and returns the user id it carries.
// Only the HMAC family is accepted.
func Verify(opts Options, token string) (int64, error) {
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return opts.Secret, nil
	})
	if err != nil || !parsed.Valid {
		return 0, errs.ErrUnauthorized.WithDetail("invalid token")
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return 0, errs.ErrUnauthorized.WithDetail("malformed claims")
	}
	raw, ok := claims["user_id"]
	if !ok {
		return 0, errs.ErrUnauthorized.WithDetail("no user_id claim")
	}
	// encoding/json decodes numbers as float64.
	f, ok := raw.(float64)
	if !ok || f <= 0 {
		return 0, errs.ErrUnauthorized.WithDetail("bad user_id claim")
	}
	return int64(f), nil
}
