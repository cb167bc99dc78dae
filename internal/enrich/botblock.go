package enrich

import (
	"net/http"
	"strings"
)

// BlockSignatures are lowercase fragments that give away a bot-wall or
// challenge page instead of the real site
var BlockSignatures = []string{
	"access denied",
	"you don't have permission",
	"request blocked",
	"verify you are human",
	"captcha",
	"cf-chl",
	"attention required! | cloudflare",
	"reference #",
	"are you a robot",
}

// Blocked reports whether content looks like a block page
func Blocked(content string) bool {
	return BlockedBy(content) != ""
}

// BlockedBy returns the first signature content matches, or ""
func BlockedBy(content string) string {
	lower := strings.ToLower(content)
	for _, sig := range BlockSignatures {
		if strings.Contains(lower, sig) {
			return sig
		}
	}
	return ""
}

// blockedStatus reports whether the server refused us outright
func blockedStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}
