package settings

import "encoding/json"

const secretMask = "**********"

// Secret holds a credential value. It never renders its plaintext through
// fmt, json or go-flags help output, use Value to get it.
type Secret struct {
	value string
}

// NewSecret wraps the given value, empty value makes an absent secret.
func NewSecret(value string) Secret {
	return Secret{value: value}
}

// Value returns the plaintext value.
func (s Secret) Value() string { return s.value }

// IsSet reports whether the secret has a value.
func (s Secret) IsSet() bool { return s.value != "" }

// String returns a mask for set secrets and empty string for absent ones.
func (s Secret) String() string {
	if !s.IsSet() {
		return ""
	}
	return secretMask
}

// GoString masks the value for %#v
func (s Secret) GoString() string { return "settings.Secret{" + s.String() + "}" }

// MarshalJSON masks the value.
func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// UnmarshalFlag implements flags.Unmarshaler, used for both cli and env values
func (s *Secret) UnmarshalFlag(value string) error {
	s.value = value
	return nil
}

// MarshalFlag implements flags.Marshaler, keeps plaintext out of the help output
func (s Secret) MarshalFlag() (string, error) { return s.String(), nil }
