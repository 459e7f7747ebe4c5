package petcd

import (
	"net/url"
	"strings"
)

// NormalizeKey returns the canonical form of a key: a leading slash, no empty segments and no trailing slash.
// The root key normalizes to "/". NormalizeKey is idempotent.
func NormalizeKey(key string) string {
	segments := splitKey(key)
	if len(segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(segments, "/")
}

// validateKey normalizes the key and rejects malformed ones.
func validateKey(key string) (string, error) {
	if strings.IndexByte(key, 0) >= 0 {
		return "", invalidArgument("key %q contains NUL byte", key)
	}
	for _, seg := range splitKey(key) {
		if seg == "." || seg == ".." {
			return "", invalidArgument("key %q contains relative segment %q", key, seg)
		}
	}
	return NormalizeKey(key), nil
}

// keyPath returns the escaped request path for a normalized key, relative to the member URL.
func keyPath(key string) string {
	segments := splitKey(key)
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return "/keys/" + strings.Join(segments, "/")
}

func splitKey(key string) []string {
	parts := strings.Split(key, "/")
	res := parts[:0]
	for _, p := range parts {
		if p != "" {
			res = append(res, p)
		}
	}
	return res
}
