package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

const sealedSettingEnc = "aes-gcm-v1"

// MaskedSettingValue replaces sensitive values in API responses.
const MaskedSettingValue = `"***"`

type sealedSettingValue struct {
	Enc   string `json:"enc"`
	Nonce string `json:"nonce"`
	Data  string `json:"data"`
}

// SettingsCipher seals sensitive system settings (credentials for the
// verifier, custody or audit gateway) at rest. The first key seals; every
// key is tried when opening so keys can be rotated.
type SettingsCipher struct {
	aeads []cipher.AEAD
}

// NewSettingsCipher accepts base64 or raw AES keys of 16, 24 or 32 bytes.
// Blank keys are skipped; a cipher without keys passes values through.
func NewSettingsCipher(keys ...string) (*SettingsCipher, error) {
	c := &SettingsCipher{}
	seen := map[string]bool{}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		raw, err := base64.StdEncoding.DecodeString(k)
		if err != nil {
			raw = []byte(k)
		}
		switch len(raw) {
		case 16, 24, 32:
		default:
			return nil, errors.New("settings key must be 16, 24 or 32 bytes")
		}
		block, err := aes.NewCipher(raw)
		if err != nil {
			return nil, err
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		c.aeads = append(c.aeads, aead)
	}
	return c, nil
}

// Sensitive reports whether a setting key holds a credential.
func Sensitive(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return false
	}
	for _, m := range []string{"secret", "token", "password", "api_key", "private_key"} {
		if strings.Contains(k, m) {
			return true
		}
	}
	return false
}

// Seal encrypts raw when key is sensitive. The setting key is bound as
// additional data so a sealed value cannot be moved to another key.
func (c *SettingsCipher) Seal(key string, raw []byte) ([]byte, error) {
	if c == nil || len(c.aeads) == 0 || !Sensitive(key) {
		return raw, nil
	}
	aead := c.aeads[0]
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ct := aead.Seal(nil, nonce, raw, additionalData(key))
	return json.Marshal(sealedSettingValue{
		Enc:   sealedSettingEnc,
		Nonce: base64.StdEncoding.EncodeToString(nonce),
		Data:  base64.StdEncoding.EncodeToString(ct),
	})
}

// Open reverses Seal. Values that were never sealed come back unchanged.
func (c *SettingsCipher) Open(key string, raw []byte) ([]byte, error) {
	if c == nil || len(raw) == 0 || !Sensitive(key) {
		return raw, nil
	}
	var sealed sealedSettingValue
	if err := json.Unmarshal(raw, &sealed); err != nil || sealed.Enc != sealedSettingEnc {
		return raw, nil
	}
	nonce, err := base64.StdEncoding.DecodeString(sealed.Nonce)
	if err != nil {
		return nil, err
	}
	ct, err := base64.StdEncoding.DecodeString(sealed.Data)
	if err != nil {
		return nil, err
	}
	for _, aead := range c.aeads {
		if len(nonce) != aead.NonceSize() {
			continue
		}
		if pt, err := aead.Open(nil, nonce, ct, additionalData(key)); err == nil {
			return pt, nil
		}
	}
	return nil, errors.New("no settings key opens " + key)
}

func additionalData(key string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(key)))
}
