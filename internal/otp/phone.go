package otp

import (
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var (
	nonDigits = regexp.MustCompile(`\D`)
	e164NANP  = regexp.MustCompile(`^\+1\d{10}$`)
)

// NormalizePhone приводит номер к виду +1XXXXXXXXXX.
// Номера другой длины тоже получают +1 и затем не проходят ValidatePhone.
func NormalizePhone(raw string) string {
	digits := nonDigits.ReplaceAllString(raw, "")
	switch {
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && strings.HasPrefix(digits, "1"):
		return "+" + digits
	default:
		return "+1" + digits
	}
}

// ValidatePhone проверяет нормализованный номер
func ValidatePhone(phone string) bool {
	if !e164NANP.MatchString(phone) {
		return false
	}
	// IsValidNumber отвергает 555-номера, достаточно проверки длины для региона
	num, err := phonenumbers.Parse(phone, "US")
	if err != nil {
		return false
	}
	return phonenumbers.IsPossibleNumber(num)
}

// MaskPhone оставляет видимыми последние 4 цифры
func MaskPhone(phone string) string {
	digits := nonDigits.ReplaceAllString(phone, "")
	if len(digits) < 4 {
		return "***-***-****"
	}
	return "***-***-" + digits[len(digits)-4:]
}
