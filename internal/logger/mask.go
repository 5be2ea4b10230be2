package logger

import (
	"net/url"
	"strings"
)

// MaskURL redacts credential material embedded in an RPC or API endpoint so
// the address is loggable. Userinfo passwords, query values, and long path
// segments (provider API keys live there) are reduced to a **** prefix plus
// the last four characters. Unparseable input is fully redacted.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "****"
	}

	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "****")
		}
	}

	if u.Path != "" {
		segs := strings.Split(u.Path, "/")
		for i, s := range segs {
			if len(s) > 12 {
				segs[i] = maskTail(s)
			}
		}
		u.Path = strings.Join(segs, "/")
		u.RawPath = ""
	}

	if u.RawQuery != "" {
		q := u.Query()
		for k, vals := range q {
			for i := range vals {
				q[k][i] = maskTail(vals[i])
			}
		}
		u.RawQuery = q.Encode()
	}

	// Query encoding escapes the stars to %2A, undo that for readability.
	return strings.ReplaceAll(u.String(), "%2A%2A%2A%2A", "****")
}

func maskTail(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
