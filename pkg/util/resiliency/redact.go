package resiliency

import (
	"errors"
	"net/url"
	"strings"
)

// sensitiveParams are query parameters whose values never reach logs or errors.
var sensitiveParams = []string{"secret", "token", "access_token", "key", "api_key", "apikey", "password", "signature"}

func isSensitive(param string) bool {
	for _, p := range sensitiveParams {
		if strings.EqualFold(p, param) {
			return true
		}
	}
	return false
}

// RedactURL renders u with the userinfo password and sensitive query values masked.
func RedactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	if c.RawQuery != "" {
		q := c.Query()
		for k := range q {
			if isSensitive(k) {
				q.Set(k, "REDACTED")
			}
		}
		c.RawQuery = q.Encode()
	}
	return c.Redacted()
}

// RedactError rebuilds a *url.Error in err so its URL goes through RedactURL.
// Other errors are returned unchanged.
func RedactError(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	redacted := "[redacted]"
	if parsed, perr := url.Parse(uerr.URL); perr == nil {
		redacted = RedactURL(parsed)
	}
	return &url.Error{Op: uerr.Op, URL: redacted, Err: uerr.Err}
}
