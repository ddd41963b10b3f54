package migrator

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// sanitizeConnectionError rewrites an error from the migrate library so it
// can be logged without exposing credentials. The library embeds the full
// database URL in connection errors; better to lose some context than leak
// a password.
func sanitizeConnectionError(err error, dbURL string) error {
	if err == nil {
		return nil
	}

	errMsg := err.Error()

	if dbURL != "" && strings.Contains(errMsg, dbURL) {
		if u, parseErr := url.Parse(dbURL); parseErr == nil && u.Host != "" {
			safeURL := fmt.Sprintf("%s://[REDACTED]@%s/[REDACTED]", u.Scheme, u.Host)
			errMsg = strings.ReplaceAll(errMsg, dbURL, safeURL)
		} else {
			errMsg = strings.ReplaceAll(errMsg, dbURL, "[DATABASE_URL_REDACTED]")
		}
	}

	errMsg = removeCredentials(errMsg, dbURL)

	return fmt.Errorf("migrate.New: %s", errMsg)
}

// removeCredentials scrubs the password (raw and URL-encoded) wherever it
// appears in the message, then applies generic credential patterns as a
// backstop for URLs we could not parse.
func removeCredentials(errMsg, dbURL string) string {
	result := errMsg

	if u, err := url.Parse(dbURL); err == nil && u.User != nil {
		if pass, ok := u.User.Password(); ok && pass != "" {
			result = strings.ReplaceAll(result, pass, "[REDACTED]")
			if encoded := url.QueryEscape(pass); encoded != pass {
				result = strings.ReplaceAll(result, encoded, "[REDACTED]")
			}
		}
	}

	for _, p := range []struct {
		regex   string
		replace string
	}{
		{`://([^:/@\s]+):([^@\s]+)@`, "://$1:[REDACTED]@"},
		{`password=([^&\s]+)`, "password=[REDACTED]"},
	} {
		result = regexp.MustCompile(p.regex).ReplaceAllString(result, p.replace)
	}

	return result
}
