package delivery

import "strings"

// Classify maps one HTTP attempt's result onto the outcome taxonomy:
// 2xx succeeds; 429, 5xx and transport errors are retryable; any other
// 4xx is permanent (retrying a rejected request cannot help).
func Classify(doErr error, status int) (Outcome, string) {
	if doErr != nil {
		errLower := strings.ToLower(doErr.Error())
		switch {
		case strings.Contains(errLower, "context deadline exceeded"), strings.Contains(errLower, "timeout"):
			return OutcomeTransient, "timeout"
		case strings.Contains(errLower, "connection refused"):
			return OutcomeTransient, "connection_refused"
		case strings.Contains(errLower, "no such host"), strings.Contains(errLower, "dns"):
			return OutcomeTransient, "dns_error"
		default:
			return OutcomeTransient, "network"
		}
	}
	switch {
	case status >= 200 && status < 300:
		return OutcomeSuccess, ""
	case status == 429:
		return OutcomeTransient, "http_429"
	case status >= 500:
		return OutcomeTransient, "http_5xx"
	case status >= 400:
		return OutcomePermanent, "http_4xx"
	default:
		// 1xx/3xx final responses: not a receiver acceptance, worth retrying
		return OutcomeTransient, "http_other"
	}
}
