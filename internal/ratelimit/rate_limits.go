package ratelimit

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultRetryAfter = 60 * time.Second

// FromResponse extracts the rate limits communicated by the collector in an
// HTTP response. The result is never nil and may be empty.
func FromResponse(r *http.Response) Map {
	return fromResponse(r, time.Now())
}

func fromResponse(r *http.Response, now time.Time) Map {
	s := r.Header.Get("X-Faultline-Rate-Limits")
	if s != "" {
		return parseRateLimits(s, now)
	}
	if r.StatusCode == http.StatusTooManyRequests {
		deadline, err := parseRetryAfter(strings.TrimSpace(r.Header.Get("Retry-After")), now)
		if err != nil {
			deadline = now.Add(defaultRetryAfter)
		}
		return Map{CategoryAll: Deadline(deadline)}
	}
	return Map{}
}

// parseRateLimits returns a map of categories and deadlines from the rate
// limit header, a comma-separated list of quota limits of the form
//
//	retry_after:categories:scope[:reason[:...]]
//
// where retry_after is a number of seconds, categories is a
// semicolon-separated list of category names (empty meaning all), and the
// remaining fields are ignored.
func parseRateLimits(s string, now time.Time) Map {
	m := Map{}
	for _, limit := range strings.Split(s, ",") {
		limit = strings.TrimSpace(limit)
		if limit == "" {
			continue
		}
		components := strings.Split(limit, ":")
		retryAfter, err := parseRetryAfter(strings.TrimSpace(components[0]), now)
		if err != nil {
			continue
		}
		categories := ""
		if len(components) > 1 {
			categories = components[1]
		}
		for _, category := range strings.Split(categories, ";") {
			c := Category(strings.TrimSpace(strings.ToLower(category)))
			if !c.IsKnown() {
				continue
			}
			d := Deadline(retryAfter)
			if d.After(m[c]) {
				m[c] = d
			}
		}
	}
	return m
}

// parseRetryAfter parses a retry delay as either a number of seconds or an
// HTTP date, mirroring the Retry-After header semantics.
func parseRetryAfter(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty retry-after value")
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if n < 0 {
			n = 0
		}
		return now.Add(time.Duration(n * float64(time.Second))), nil
	}
	if date, err := time.Parse(http.TimeFormat, s); err == nil {
		return date, nil
	}
	return time.Time{}, errors.New("invalid retry-after value")
}
