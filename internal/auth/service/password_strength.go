package service

import (
	"strings"
	"unicode"

	"github.com/spendlog/backend/internal/common/constants"
)

const requiredCriteria = 3

// IsStrong reports whether password has at least 8 characters and satisfies
// at least 3 of: uppercase, lowercase, digit, special character.
func IsStrong(password string) bool {
	if len(password) < constants.PasswordMinLength {
		return false
	}
	return countCriteria(password) >= requiredCriteria
}

// StrengthMessage lists the unmet criteria, or confirms the password is
// acceptable when all checks pass.
func StrengthMessage(password string) string {
	var unmet []string

	if len(password) < constants.PasswordMinLength {
		unmet = append(unmet, "at least 8 characters")
	}

	hasUpper, hasLower, hasDigit, hasSpecial := characterClasses(password)
	met := 0
	for _, ok := range []bool{hasUpper, hasLower, hasDigit, hasSpecial} {
		if ok {
			met++
		}
	}

	if met < requiredCriteria {
		var missing []string
		if !hasUpper {
			missing = append(missing, "uppercase letter")
		}
		if !hasLower {
			missing = append(missing, "lowercase letter")
		}
		if !hasDigit {
			missing = append(missing, "digit")
		}
		if !hasSpecial {
			missing = append(missing, "special character")
		}
		unmet = append(unmet, "at least 3 of 4 character classes (missing: "+strings.Join(missing, ", ")+")")
	}

	if len(unmet) == 0 {
		return "password meets strength requirements"
	}
	return "password needs: " + strings.Join(unmet, "; ")
}

func countCriteria(password string) int {
	hasUpper, hasLower, hasDigit, hasSpecial := characterClasses(password)

	count := 0
	for _, ok := range []bool{hasUpper, hasLower, hasDigit, hasSpecial} {
		if ok {
			count++
		}
	}
	return count
}

func characterClasses(password string) (hasUpper, hasLower, hasDigit, hasSpecial bool) {
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}
	return hasUpper, hasLower, hasDigit, hasSpecial
}
