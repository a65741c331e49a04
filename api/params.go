package api

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

var errBadCursor = errors.New("after must be an epoch-milliseconds integer")

func parseLimit(q url.Values) (int, error) {
	raw := q.Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return n, nil
}

func parseAfter(q url.Values) (*int64, error) {
	raw := q.Get("after")
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, errBadCursor
	}
	return &n, nil
}

// listParam accepts both repeated keys and comma-separated values.
func listParam(q url.Values, key string) []string {
	var out []string
	for _, v := range q[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
