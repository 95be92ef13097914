package ledger

import (
	"strings"

	"github.com/ttacon/libphonenumber"
)

// DefaultPhoneRegion is used for numbers written without a country code.
const DefaultPhoneRegion = "AR"

// NormalizePhone validates a phone number and formats it as E.164.
// An empty or blank phone is allowed and clears the stored value.
func NormalizePhone(phone, region string) (string, error) {
	const op = "normalize phone"
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", nil
	}
	if region == "" {
		region = DefaultPhoneRegion
	}
	num, err := libphonenumber.Parse(phone, region)
	if err != nil {
		return "", Validationf(op, "invalid phone %q: %v", phone, err)
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", Validationf(op, "phone %q is not a valid number for region %s", phone, region)
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}
