package crypto

import (
	"encoding/json"
	"fmt"
)

// EncryptSecretFields encrypts the named top-level string fields of a JSON
// object in place (used for notification-channel config: webhook URLs,
// bot tokens, SMTP passwords) and returns the re-marshaled object.
// If key is nil, raw is returned unchanged.
func EncryptSecretFields(raw json.RawMessage, fields []string, key []byte) (json.RawMessage, error) {
	if key == nil || len(raw) == 0 {
		return raw, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("unmarshal secret fields: %w", err)
	}

	for _, field := range fields {
		v, ok := obj[field].(string)
		if !ok || v == "" {
			continue
		}

		enc, err := Encrypt(v, key)
		if err != nil {
			return nil, fmt.Errorf("encrypt field %q: %w", field, err)
		}
		obj[field] = enc
	}

	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal secret fields: %w", err)
	}
	return out, nil
}

// DecryptSecretFields is the inverse of EncryptSecretFields. Values that
// are not encrypted (no "enc:" prefix) are left as-is.
func DecryptSecretFields(raw json.RawMessage, fields []string, key []byte) (json.RawMessage, error) {
	if key == nil || len(raw) == 0 {
		return raw, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("unmarshal secret fields: %w", err)
	}

	for _, field := range fields {
		v, ok := obj[field].(string)
		if !ok || v == "" {
			continue
		}

		dec, err := Decrypt(v, key)
		if err != nil {
			return nil, fmt.Errorf("decrypt field %q: %w", field, err)
		}
		obj[field] = dec
	}

	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal secret fields: %w", err)
	}
	return out, nil
}
