package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"
)

const testBotToken = "123456:TEST-TOKEN"

// signInitData builds a correctly signed initData query string the way the
// Telegram client would.
func signInitData(t *testing.T, botToken string, fields map[string]string) string {
	t.Helper()

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+fields[k])
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(pairs, "\n")))
	hash := hex.EncodeToString(mac.Sum(nil))

	q := url.Values{}
	for k, v := range fields {
		q.Set(k, v)
	}
	q.Set("hash", hash)
	return q.Encode()
}

func testFields(authDate time.Time) map[string]string {
	return map[string]string{
		"auth_date": strconv.FormatInt(authDate.Unix(), 10),
		"query_id":  "AAF9tz0RAAAAAH23PRGvvGHA",
		"user":      `{"id":987654321,"first_name":"Ivan","username":"ivan_dev"}`,
	}
}

func TestValidator_Validate_Valid(t *testing.T) {
	now := time.Now()
	initData := signInitData(t, testBotToken, testFields(now))

	v := NewValidator(testBotToken, 24*time.Hour)
	identity, err := v.Validate(initData, now)
	if err != nil {
		t.Fatalf("expected valid init data, got %v", err)
	}
	if identity.TelegramUserID != 987654321 {
		t.Errorf("unexpected user id %d", identity.TelegramUserID)
	}
	if identity.Username == nil || *identity.Username != "ivan_dev" {
		t.Errorf("unexpected username %v", identity.Username)
	}
}

func TestValidator_Validate_NoUsername(t *testing.T) {
	now := time.Now()
	fields := testFields(now)
	fields["user"] = `{"id":42,"first_name":"Anon"}`
	initData := signInitData(t, testBotToken, fields)

	v := NewValidator(testBotToken, 24*time.Hour)
	identity, err := v.Validate(initData, now)
	if err != nil {
		t.Fatalf("expected valid init data, got %v", err)
	}
	if identity.Username != nil {
		t.Errorf("expected nil username, got %q", *identity.Username)
	}
}

func TestValidator_Validate_TamperedPayload(t *testing.T) {
	now := time.Now()
	initData := signInitData(t, testBotToken, testFields(now))
	tampered := strings.Replace(initData, "987654321", "111111111", 1)

	v := NewValidator(testBotToken, 24*time.Hour)
	if _, err := v.Validate(tampered, now); !errors.Is(err, ErrInvalidInitData) {
		t.Fatalf("expected ErrInvalidInitData, got %v", err)
	}
}

func TestValidator_Validate_WrongBotToken(t *testing.T) {
	now := time.Now()
	initData := signInitData(t, "999:OTHER-TOKEN", testFields(now))

	v := NewValidator(testBotToken, 24*time.Hour)
	if _, err := v.Validate(initData, now); !errors.Is(err, ErrInvalidInitData) {
		t.Fatalf("expected ErrInvalidInitData, got %v", err)
	}
}

func TestValidator_Validate_MissingHash(t *testing.T) {
	v := NewValidator(testBotToken, 24*time.Hour)
	if _, err := v.Validate("auth_date=123&user=%7B%22id%22%3A1%7D", time.Now()); !errors.Is(err, ErrInvalidInitData) {
		t.Fatalf("expected ErrInvalidInitData, got %v", err)
	}
}

func TestValidator_Validate_Expired(t *testing.T) {
	now := time.Now()
	initData := signInitData(t, testBotToken, testFields(now.Add(-48*time.Hour)))

	v := NewValidator(testBotToken, 24*time.Hour)
	if _, err := v.Validate(initData, now); !errors.Is(err, ErrExpiredInitData) {
		t.Fatalf("expected ErrExpiredInitData, got %v", err)
	}
}

func TestValidator_Validate_MissingUser(t *testing.T) {
	now := time.Now()
	fields := testFields(now)
	delete(fields, "user")
	initData := signInitData(t, testBotToken, fields)

	v := NewValidator(testBotToken, 24*time.Hour)
	if _, err := v.Validate(initData, now); !errors.Is(err, ErrInvalidInitData) {
		t.Fatalf("expected ErrInvalidInitData, got %v", err)
	}
}
