package geocascade

import "strings"

// PincodeLength is the number of digits in an Indian postal code.
const PincodeLength = 6

// IsPincode reports whether s, after trimming, is exactly six ASCII digits.
func IsPincode(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != PincodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// NormalizePincode trims s and validates it.
func NormalizePincode(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !IsPincode(s) {
		return "", ErrInvalidPincode
	}
	return s, nil
}
