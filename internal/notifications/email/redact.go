package email

import "strings"

// NormalizeAddress trims surrounding whitespace and lower-cases an address so
// that "Ann@Example.com " and "ann@example.com" are the same recipient.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// RedactEmail masks an email address for logging: "john@gmail.com" becomes
// "j***@gmail.com". Strings without "@" are masked entirely.
func RedactEmail(email string) string {
	if email == "" {
		return ""
	}

	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return "***"
	}
	if local == "" {
		return "***@" + domain
	}
	return local[:1] + "***@" + domain
}
