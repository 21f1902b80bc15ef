// Package voicetoken mints signed credentials for the voice room service.
package voicetoken

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

const DefaultTTL = 6 * time.Hour

var (
	ErrNotConfigured  = errors.New("voice token issuer is not configured")
	ErrInvalidRequest = errors.New("invalid voice token request")
)

var validate = validator.New()

type Request struct {
	Room     string `json:"room" validate:"required,max=128"`
	Identity string `json:"identity" validate:"required,max=128"`
	Name     string `json:"name,omitempty" validate:"max=64"`
	Avatar   string `json:"avatar,omitempty" validate:"omitempty,max=2048"`
}

type VideoGrant struct {
	Room         string `json:"room"`
	RoomJoin     bool   `json:"roomJoin"`
	CanPublish   bool   `json:"canPublish"`
	CanSubscribe bool   `json:"canSubscribe"`
}

type Claims struct {
	Name     string      `json:"name,omitempty"`
	Metadata string      `json:"metadata,omitempty"`
	Video    *VideoGrant `json:"video"`
	jwt.RegisteredClaims
}

type Issuer struct {
	apiKey    string
	apiSecret []byte
	ttl       time.Duration
	now       func() time.Time
}

func NewIssuer(apiKey, apiSecret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{apiKey: apiKey, apiSecret: []byte(apiSecret), ttl: ttl, now: time.Now}
}

func (i *Issuer) Configured() bool {
	return i.apiKey != "" && len(i.apiSecret) > 0
}

// Issue returns an HS256 token letting req.Identity join, publish and
// subscribe in req.Room.
func (i *Issuer) Issue(req Request) (string, error) {
	req.Room = strings.TrimSpace(req.Room)
	req.Identity = strings.TrimSpace(req.Identity)
	if err := validate.Struct(req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !i.Configured() {
		return "", ErrNotConfigured
	}

	var metadata string
	if req.Avatar != "" {
		raw, err := json.Marshal(map[string]string{"avatar": req.Avatar})
		if err != nil {
			return "", fmt.Errorf("encode metadata: %w", err)
		}
		metadata = string(raw)
	}

	now := i.now()
	claims := &Claims{
		Name:     req.Name,
		Metadata: metadata,
		Video: &VideoGrant{
			Room:         req.Room,
			RoomJoin:     true,
			CanPublish:   true,
			CanSubscribe: true,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.apiKey,
			Subject:   req.Identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.apiSecret)
	if err != nil {
		return "", fmt.Errorf("sign voice token: %w", err)
	}
	log.Debug().Str("module", "voicetoken").Str("room", req.Room).Str("identity", req.Identity).Msg("voice token issued")
	return signed, nil
}
