package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Telegram signs web-app init data with a key derived from the bot
// token and this constant.
const telegramSecretSalt = "WebAppData"

// ErrInvalidInitData is returned when Telegram init data fails
// signature verification or is structurally malformed.
var ErrInvalidInitData = errors.New("invalid telegram init data")

// ErrInitDataExpired is returned when the init data's auth_date is
// older than the provider's MaxAge.
var ErrInitDataExpired = errors.New("telegram init data expired")

// telegramUser mirrors the user JSON embedded in init data.
type telegramUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// TelegramProvider verifies Telegram mini-app init data and extracts
// the player identity from it.
type TelegramProvider struct {
	// BotToken signs the init data.
	BotToken string
	// InitData is the raw query-encoded init data from the client.
	InitData string
	// MaxAge rejects init data whose auth_date is older than this.
	// Zero disables the freshness check.
	MaxAge time.Duration
	// Now overrides the clock for the freshness check. Nil uses time.Now.
	Now func() time.Time
}

// Resolve verifies the init data signature and returns the embedded user.
//
// Precondition: BotToken must be non-empty.
// Postcondition: Returns the identity only when the HMAC over the
// data-check string matches the hash field.
func (p TelegramProvider) Resolve(ctx context.Context) (Identity, error) {
	id, err := VerifyInitData(p.BotToken, p.InitData, p.MaxAge, p.now())
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrIdentityUnavailable, err)
	}
	return id, nil
}

func (p TelegramProvider) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// VerifyInitData checks the signature on raw init data and returns the
// embedded user. maxAge of zero disables the freshness check.
func VerifyInitData(botToken, initData string, maxAge time.Duration, now time.Time) (Identity, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: parsing init data: %w", ErrInvalidInitData, err)
	}

	gotHash := values.Get("hash")
	if gotHash == "" {
		return Identity{}, fmt.Errorf("%w: missing hash", ErrInvalidInitData)
	}
	values.Del("hash")

	if !hmac.Equal([]byte(gotHash), []byte(SignInitData(botToken, values))) {
		return Identity{}, fmt.Errorf("%w: signature mismatch", ErrInvalidInitData)
	}

	if maxAge > 0 {
		var authDate int64
		if _, err := fmt.Sscanf(values.Get("auth_date"), "%d", &authDate); err != nil {
			return Identity{}, fmt.Errorf("%w: bad auth_date", ErrInvalidInitData)
		}
		if now.Sub(time.Unix(authDate, 0)) > maxAge {
			return Identity{}, ErrInitDataExpired
		}
	}

	var user telegramUser
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil {
		return Identity{}, fmt.Errorf("%w: parsing user: %w", ErrInvalidInitData, err)
	}
	if user.ID == 0 {
		return Identity{}, fmt.Errorf("%w: missing user id", ErrInvalidInitData)
	}
	return Identity{ID: user.ID, Username: user.Username}, nil
}

// SignInitData computes the hex HMAC over the data-check string built
// from values (hash excluded, keys sorted).
func SignInitData(botToken string, values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}
	checkString := strings.Join(lines, "\n")

	secret := hmac.New(sha256.New, []byte(telegramSecretSalt))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(checkString))
	return hex.EncodeToString(mac.Sum(nil))
}
