package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"
)

// HashKey creates a SHA256 hash of a composite key. Values are rendered
// with their type so that 1 and "1" stay distinct.
func HashKey(parts ...any) string {
	h := sha256.New()
	for _, p := range parts {
		switch v := p.(type) {
		case time.Time:
			fmt.Fprintf(h, "time:%s\x1f", v.UTC().Format(time.RFC3339Nano))
		default:
			fmt.Fprintf(h, "%T:%v\x1f", v, v)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ToAbsoluteURL converts a relative URL to an absolute URL given a base URL.
func ToAbsoluteURL(base *url.URL, relative string) (string, error) {
	relURL, err := url.Parse(relative)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(relURL).String(), nil
}
