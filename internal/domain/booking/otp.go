package booking

const OTPLength = 6

// ValidateOTP accepts exactly six ASCII digits. Input is not trimmed or
// reformatted.
func ValidateOTP(code string) error {
	if len(code) != OTPLength {
		return ErrMalformedOTP
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return ErrMalformedOTP
		}
	}
	return nil
}
