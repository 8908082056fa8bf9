package normalize

import "strings"

// institutionalPrefixes are shared-mailbox local parts that identify an
// office rather than a person. An email starting with one of these carries
// no identity signal.
var institutionalPrefixes = []string{
	"info@",
	"office@",
	"admin@",
	"contact@",
	"frontdesk@",
	"reception@",
	"noreply@",
	"no-reply@",
	"donotreply@",
}

// fabricatedDomains are domains that source systems stamp onto records when
// the real address is missing. Values under these domains are synthetic.
var fabricatedDomains = []string{
	"noemail.com",
	"unknown.com",
	"noemail.invalid",
	"example.invalid",
}

// fabricatedLocalParts are local parts staff type in to get past a
// required-field validation.
var fabricatedLocalParts = []string{
	"none",
	"noemail",
	"no",
	"na",
	"n/a",
	"unknown",
	"x",
	"xx",
}

// IsPlaceholderEmail reports whether a normalized email is an institutional
// shared mailbox or a fabricated filler value. Placeholder emails are
// excluded from matching entirely.
func IsPlaceholderEmail(email string) bool {
	if email == "" {
		return true
	}

	for _, prefix := range institutionalPrefixes {
		if strings.HasPrefix(email, prefix) {
			return true
		}
	}

	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return true
	}
	local, domain := email[:at], email[at+1:]

	for _, d := range fabricatedDomains {
		if domain == d {
			return true
		}
	}
	for _, l := range fabricatedLocalParts {
		if local == l {
			return true
		}
	}

	return false
}
