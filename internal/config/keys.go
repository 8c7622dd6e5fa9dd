package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Canonical credential names recognized by the provider stack. Anything else
// found in a key document is surfaced as a validation error, not ignored
// silently.
const (
	KeyAlphaVantage = "alpha_vantage"
	KeyTwelveData   = "twelve_data"
	KeyFMP          = "financial_modeling_prep"
	KeyTradingEcon  = "trading_economics"
	KeyFinnhub      = "finnhub"
	KeySosoValue    = "sosovalue"
	KeyCoinglass    = "coinglass"
	KeyAlpacaKeyID  = "alpaca_key_id"
	KeyAlpacaSecret = "alpaca_secret"
)

var canonicalKeys = []string{
	KeyAlphaVantage,
	KeyTwelveData,
	KeyFMP,
	KeyTradingEcon,
	KeyFinnhub,
	KeySosoValue,
	KeyCoinglass,
	KeyAlpacaKeyID,
	KeyAlpacaSecret,
}

// LoadKeys resolves provider credentials in precedence order: a JSON file
// named by API_KEYS_PATH, then inline JSON in API_KEYS, then loose
// environment variables matching a canonical name case-insensitively, then
// the TRADING_ECONOMICS_USER/TRADING_ECONOMICS_PASSWORD pair. Earlier
// sources win per key. Malformed entries become named errors instead of
// aborting the load.
func LoadKeys() (map[string]string, []error) {
	keys := make(map[string]string)
	var errs []error

	if path := strings.TrimSpace(os.Getenv("API_KEYS_PATH")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("read API_KEYS_PATH: %w", err))
		} else {
			errs = append(errs, mergeKeyDoc(keys, data, "API_KEYS_PATH")...)
		}
	}

	if raw := strings.TrimSpace(os.Getenv("API_KEYS")); raw != "" {
		errs = append(errs, mergeKeyDoc(keys, []byte(raw), "API_KEYS")...)
	}

	for _, name := range canonicalKeys {
		if keys[name] != "" {
			continue
		}
		if v := lookupEnvFold(name); v != "" {
			keys[name] = v
		}
	}

	if keys[KeyTradingEcon] == "" {
		user := strings.TrimSpace(os.Getenv("TRADING_ECONOMICS_USER"))
		pass := strings.TrimSpace(os.Getenv("TRADING_ECONOMICS_PASSWORD"))
		if user != "" && pass != "" {
			keys[KeyTradingEcon] = user + ":" + pass
		}
	}

	return keys, errs
}

func mergeKeyDoc(dst map[string]string, data []byte, origin string) []error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return []error{fmt.Errorf("%s: not a JSON object: %w", origin, err)}
	}

	var errs []error
	for name, value := range raw {
		canon := normalizeKeyName(name)
		if !isCanonical(canon) {
			errs = append(errs, fmt.Errorf("%s: unknown key name %q", origin, name))
			continue
		}
		if dst[canon] != "" {
			continue
		}
		v, err := coerceKeyValue(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: key %q: %v", origin, name, err))
			continue
		}
		dst[canon] = v
	}
	return errs
}

// coerceKeyValue accepts either a bare string or an object carrying the
// credential under one of the common field names.
func coerceKeyValue(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return "", fmt.Errorf("empty value")
		}
		return s, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("expected string or object")
	}
	for _, field := range []string{"api_key", "key", "token", "secret"} {
		if v, ok := obj[field].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), nil
		}
	}
	return "", fmt.Errorf("object carries no api_key/key/token/secret field")
}

func normalizeKeyName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}

func isCanonical(name string) bool {
	for _, c := range canonicalKeys {
		if c == name {
			return true
		}
	}
	return false
}

func lookupEnvFold(name string) string {
	if v := strings.TrimSpace(os.Getenv(strings.ToUpper(name))); v != "" {
		return v
	}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.EqualFold(k, name) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
