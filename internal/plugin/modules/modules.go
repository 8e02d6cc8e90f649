// Package modules implements the sanctioned modules plugin code may require.
//
// Each runtime wraps these functions in its own calling convention; the
// behavior is shared so a Lua and a JavaScript plugin see the same results.
package modules

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"time"

	"github.com/google/uuid"
)

// Names lists the modules served by this package.
var Names = []string{"json", "re", "hash", "uuid", "base64", "time"}

// MaxSleep caps a single time.sleep call.
const MaxSleep = time.Minute

// JSONEncode serializes v.
func JSONEncode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("json.encode: %w", err)
	}
	return string(data), nil
}

// JSONDecode parses s into maps, slices, float64, string, bool and nil.
func JSONDecode(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("json.decode: %w", err)
	}
	return v, nil
}

var hashes = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
}

// HashNames lists the supported digest algorithms.
var HashNames = []string{"md5", "sha1", "sha256", "sha512"}

// Hash returns the hex digest of data using the named algorithm.
func Hash(algorithm, data string) (string, error) {
	newHash, ok := hashes[algorithm]
	if !ok {
		return "", fmt.Errorf("hash: unknown algorithm %q", algorithm)
	}
	h := newHash()
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HMACSHA256 returns the hex HMAC-SHA256 of data keyed with key.
func HMACSHA256(key, data string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewUUID returns a random (version 4) UUID string.
func NewUUID() string {
	return uuid.NewString()
}

// Base64Encode encodes s with standard padding.
func Base64Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// Base64Decode decodes standard or URL-safe base64.
func Base64Decode(s string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.URLEncoding.DecodeString(s)
	}
	if err != nil {
		return "", fmt.Errorf("base64.decode: %w", err)
	}
	return string(data), nil
}

// Now returns the current UTC time in RFC 3339 form.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Unix returns the current Unix time in seconds, with a fractional part.
func Unix() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

var layouts = map[string]string{
	"":         time.RFC3339,
	"rfc3339":  time.RFC3339,
	"date":     time.DateOnly,
	"datetime": time.DateTime,
	"time":     time.TimeOnly,
}

func layout(name string) string {
	if l, ok := layouts[name]; ok {
		return l
	}
	return name
}

// FormatTime formats a Unix time in UTC. The layout is a Go layout or one
// of "rfc3339", "date", "datetime" and "time"; empty means RFC 3339.
func FormatTime(unix float64, layoutName string) string {
	sec := int64(unix)
	nsec := int64((unix - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC().Format(layout(layoutName))
}

// ParseTime parses value with the named layout and returns Unix seconds.
func ParseTime(value, layoutName string) (float64, error) {
	t, err := time.Parse(layout(layoutName), value)
	if err != nil {
		return 0, fmt.Errorf("time.parse: %w", err)
	}
	return float64(t.UnixNano()) / float64(time.Second), nil
}

// Sleep blocks for ms milliseconds or until ctx is done.
func Sleep(ctx context.Context, ms float64) error {
	d := time.Duration(ms * float64(time.Millisecond))
	if d <= 0 {
		return nil
	}
	d = min(d, MaxSleep)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
