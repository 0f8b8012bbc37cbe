package onboarding

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName はオンボーディング状態Cookieの名前。
const CookieName = "onboarding-status"

const (
	onboardedTrue  = "true"
	onboardedFalse = "false"
)

// Claims はオンボーディング状態Cookieに格納するJWTクレーム。
// Subjectにユーザーを、Onboardedに"true"/"false"を持つ。
type Claims struct {
	Onboarded string `json:"onboarded"`
	jwt.RegisteredClaims
}

// CookieConfig はCookie属性の設定。
type CookieConfig struct {
	Secret string
	TTL    time.Duration
	Secure bool
	Domain string
}

// CookieCodec はオンボーディング状態Cookieの署名と検証を行う。
type CookieCodec struct {
	secret []byte
	ttl    time.Duration
	secure bool
	domain string
	now    func() time.Time
}

// NewCookieCodec はCookieCodecを生成する。
func NewCookieCodec(cfg CookieConfig) *CookieCodec {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &CookieCodec{
		secret: []byte(cfg.Secret),
		ttl:    cfg.TTL,
		secure: cfg.Secure,
		domain: cfg.Domain,
		now:    time.Now,
	}
}

// Encode はユーザーのオンボーディング状態をHS256で署名したトークンにする。
func (c *CookieCodec) Encode(userID string, onboarded bool) (string, error) {
	value := onboardedFalse
	if onboarded {
		value = onboardedTrue
	}
	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Onboarded: value,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	})
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign onboarding cookie: %w", err)
	}
	return signed, nil
}

// Decode はトークンを検証してクレームを返す。
// 署名不正、期限切れ、HMAC以外のアルゴリズムはエラーになる。
func (c *CookieCodec) Decode(value string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(value, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parse onboarding cookie: %w", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid onboarding cookie claims")
	}
	if claims.Onboarded != onboardedTrue && claims.Onboarded != onboardedFalse {
		return nil, fmt.Errorf("invalid onboarded claim: %q", claims.Onboarded)
	}
	return claims, nil
}

// IsOnboarded はCookieの値が指定ユーザーについて"true"を示す有効なトークンかを返す。
func (c *CookieCodec) IsOnboarded(value, userID string) bool {
	if value == "" {
		return false
	}
	claims, err := c.Decode(value)
	if err != nil {
		return false
	}
	return claims.Subject == userID && claims.Onboarded == onboardedTrue
}

// Cookie はオンボーディング状態Cookieを生成する。
func (c *CookieCodec) Cookie(userID string, onboarded bool) (*http.Cookie, error) {
	value, err := c.Encode(userID, onboarded)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Domain:   c.domain,
		MaxAge:   int(c.ttl / time.Second),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// ClearCookie はオンボーディング状態Cookieを削除するCookieを返す。
func (c *CookieCodec) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Domain:   c.domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
