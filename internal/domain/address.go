package domain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// AddressLength is the number of bytes in an account address.
const AddressLength = 20

// ZeroAddress is the all-zero address. It never owns anything.
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

// Address is a 0x-prefixed, lower-case hex account address.
// The zero value ("") is treated the same as ZeroAddress.
type Address string

// ParseAddress validates and normalizes an address string.
// Mixed-case input is accepted and folded to lower case.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if len(s) != 2+2*AddressLength || !(strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	body := strings.ToLower(s[2:])
	if _, err := hex.DecodeString(body); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return Address("0x" + body), nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the normalized form.
func (a Address) String() string {
	if a == "" {
		return string(ZeroAddress)
	}
	return string(a)
}

// Normalized returns the lower-case form used for storage keys.
func (a Address) Normalized() Address {
	return Address(strings.ToLower(a.String()))
}

// IsZero reports whether a is empty or the zero address.
func (a Address) IsZero() bool {
	return a == "" || strings.EqualFold(string(a), string(ZeroAddress))
}

// Equal compares two addresses case-insensitively.
func (a Address) Equal(other Address) bool {
	if a.IsZero() || other.IsZero() {
		return a.IsZero() && other.IsZero()
	}
	return strings.EqualFold(string(a), string(other))
}

// Short renders 0x1234…abcd for display.
func (a Address) Short() string {
	s := a.String()
	return s[:6] + "…" + s[len(s)-4:]
}

// UnmarshalJSON parses and normalizes the address.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*a = ""
		return nil
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
