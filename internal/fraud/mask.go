package fraud

import "strings"

// MaskEmail keeps the first two characters of the local part and the domain.
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return MaskAccount(email)
	}
	local, domainPart := email[:at], email[at+1:]
	keep := min(2, max(0, len(local)-1))
	return local[:keep] + "***@" + domainPart
}

// MaskAccount keeps the last four characters.
func MaskAccount(account string) string {
	account = strings.TrimSpace(account)
	if account == "" {
		return ""
	}
	if len(account) <= 4 {
		return strings.Repeat("*", len(account))
	}
	return strings.Repeat("*", len(account)-4) + account[len(account)-4:]
}
