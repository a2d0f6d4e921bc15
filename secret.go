// File: settings/secret.go
package settings

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// encryptSecret obfuscates value with a repeating byte-shift keyed on key and
// wraps the result in URL-safe base64 so it survives the config file format.
// This is obfuscation for at-rest config values, not cryptography.
func encryptSecret(value, key string) string {
	if key == "" {
		return base64.URLEncoding.EncodeToString([]byte(value))
	}
	kb := []byte(key)
	vb := []byte(value)
	out := make([]byte, len(vb))
	for i, b := range vb {
		out[i] = byte((int(b) + int(kb[i%len(kb)])) % 256)
	}
	return base64.URLEncoding.EncodeToString(out)
}

// decryptSecret reverses encryptSecret.
func decryptSecret(encoded, key string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: secret is not valid base64: %v", ErrResolve, err)
	}
	if key == "" {
		return string(raw), nil
	}
	kb := []byte(key)
	out := make([]byte, len(raw))
	for i, b := range raw {
		out[i] = byte((int(b) - int(kb[i%len(kb)]) + 256) % 256)
	}
	return string(out), nil
}

// secretResolver stores values encrypted in the user file and hands them back
// decrypted. The encryption key comes from the GetSecret hook, falling back
// to the SECRET_KEY setting on the root node.
type secretResolver struct {
	strResolver
}

func newSecretResolver(s *Section, p ResolverParams) Resolver {
	return &secretResolver{strResolver{baseResolver{section: s, params: p}}}
}

func (r *secretResolver) secretKey() (string, error) {
	if r.params.GetSecret != nil {
		return r.params.GetSecret()
	}
	v, err := r.section.Root().Get("SECRET_KEY")
	if err != nil {
		return "", fmt.Errorf("%w: no secret key available: %v", ErrResolve, err)
	}
	return toString(v), nil
}

func (r *secretResolver) Decode(raw any) (any, error) {
	key, err := r.secretKey()
	if err != nil {
		return nil, err
	}
	plain, err := decryptSecret(toString(raw), key)
	if err != nil {
		return nil, err
	}
	return r.interpolate(plain)
}

func (r *secretResolver) Encode(value any) (string, error) {
	key, err := r.secretKey()
	if err != nil {
		return "", err
	}
	return encryptSecret(toString(value), key), nil
}

// Password is the resolved form of a password setting. It only ever holds the
// salted hash; Equals checks a plaintext candidate against it.
type Password struct {
	hash   string
	salt   func(value string) string
	hashFn func(value, salt string) string
}

// Hash returns the stored hash digest.
func (p Password) Hash() string { return p.hash }

// String implements fmt.Stringer so passwords never leak more than the hash.
func (p Password) String() string { return p.hash }

// Equals reports whether the plaintext candidate hashes to the stored digest.
func (p Password) Equals(plain string) bool {
	return p.hashFn(plain, p.salt(plain)) == p.hash
}

func defaultSalt(string) string { return "default" }

func defaultHash(value, salt string) string {
	sum := sha256.Sum256([]byte(value + "." + salt))
	return fmt.Sprintf("%x", sum)
}

// passwordResolver stores a salted hash and resolves to a Password handle.
// Raw values are assumed to already be hashed; Encode hashes plaintext.
type passwordResolver struct {
	baseResolver
}

func newPasswordResolver(s *Section, p ResolverParams) Resolver {
	return &passwordResolver{baseResolver{section: s, params: p}}
}

func (r *passwordResolver) saltFn() func(string) string {
	if r.params.Salt != nil {
		return r.params.Salt
	}
	return defaultSalt
}

func (r *passwordResolver) hashFn() func(value, salt string) string {
	if r.params.Hash != nil {
		return r.params.Hash
	}
	return defaultHash
}

func (r *passwordResolver) Decode(raw any) (any, error) {
	return Password{hash: toString(raw), salt: r.saltFn(), hashFn: r.hashFn()}, nil
}

func (r *passwordResolver) Encode(value any) (string, error) {
	switch v := value.(type) {
	case Password:
		return v.hash, nil
	case *Password:
		return v.hash, nil
	default:
		plain := toString(value)
		return r.hashFn()(plain, r.saltFn()(plain)), nil
	}
}

func (r *passwordResolver) Validate(value any) bool {
	if ok, handled := r.customValid(value); handled {
		return ok
	}
	return true
}
