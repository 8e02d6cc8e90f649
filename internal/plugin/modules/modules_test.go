package modules

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestJSONRoundTrip(t *testing.T) {
	s, err := JSONEncode(map[string]any{"a": []any{1, "x"}})
	if err != nil {
		t.Fatalf("JSONEncode() error = %v", err)
	}
	if s != `{"a":[1,"x"]}` {
		t.Errorf("JSONEncode() = %s", s)
	}

	v, err := JSONDecode(s)
	if err != nil {
		t.Fatalf("JSONDecode() error = %v", err)
	}
	want := map[string]any{"a": []any{float64(1), "x"}}
	if !reflect.DeepEqual(v, want) {
		t.Errorf("JSONDecode() = %v, want %v", v, want)
	}

	if _, err := JSONDecode("{"); err == nil {
		t.Error("JSONDecode() should fail on truncated input")
	}
}

func TestHash(t *testing.T) {
	tests := []struct {
		alg, want string
	}{
		{"md5", "900150983cd24fb0d6963f7d28e17f72"},
		{"sha1", "a9993e364706816aba3e25717850c26c9cd0d89d"},
		{"sha256", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
	}
	for _, tt := range tests {
		got, err := Hash(tt.alg, "abc")
		if err != nil {
			t.Fatalf("Hash(%s) error = %v", tt.alg, err)
		}
		if got != tt.want {
			t.Errorf("Hash(%s) = %s, want %s", tt.alg, got, tt.want)
		}
	}
	if _, err := Hash("crc", "abc"); err == nil {
		t.Error("Hash(crc) should fail")
	}
}

func TestBase64(t *testing.T) {
	enc := Base64Encode("hello?")
	if enc != "aGVsbG8/" {
		t.Errorf("Base64Encode() = %s", enc)
	}
	for _, in := range []string{"aGVsbG8/", "aGVsbG8_"} {
		got, err := Base64Decode(in)
		if err != nil || got != "hello?" {
			t.Errorf("Base64Decode(%s) = %q, %v", in, got, err)
		}
	}
	if _, err := Base64Decode("!!"); err == nil {
		t.Error("Base64Decode(!!) should fail")
	}
}

func TestNewUUID(t *testing.T) {
	id, err := uuid.Parse(NewUUID())
	if err != nil {
		t.Fatalf("uuid.Parse() error = %v", err)
	}
	if id.Version() != 4 {
		t.Errorf("Version() = %d, want 4", id.Version())
	}
}

func TestNow(t *testing.T) {
	if _, err := time.Parse(time.RFC3339, Now()); err != nil {
		t.Errorf("Now() is not RFC 3339: %v", err)
	}
	if Unix() < 1e9 {
		t.Errorf("Unix() = %f", Unix())
	}
}

func TestHMACSHA256(t *testing.T) {
	got := HMACSHA256("key", "The quick brown fox jumps over the lazy dog")
	want := "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8"
	if got != want {
		t.Errorf("HMACSHA256() = %s, want %s", got, want)
	}
}

func TestFormatParseTime(t *testing.T) {
	if got := FormatTime(0, "date"); got != "1970-01-01" {
		t.Errorf("FormatTime(0, date) = %q", got)
	}
	if got := FormatTime(1704164645, ""); got != "2024-01-02T03:04:05Z" {
		t.Errorf("FormatTime() = %q", got)
	}

	sec, err := ParseTime("2024-01-02 03:04:05", "datetime")
	if err != nil || sec != 1704164645 {
		t.Errorf("ParseTime() = %v, %v", sec, err)
	}
	if _, err := ParseTime("yesterday", "date"); err == nil {
		t.Error("ParseTime() accepted an invalid value")
	}
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Sleep(ctx, 5000)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Sleep() error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep() ignored cancellation")
	}
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) error = %v", err)
	}
}

func TestRegexp(t *testing.T) {
	ok, err := Match(`^\d+$`, "12345")
	if err != nil || !ok {
		t.Errorf("Match() = %v, %v", ok, err)
	}

	got, found, err := Find(`(?<=id=)\w+`, "user id=abc42 end")
	if err != nil || !found || got != "abc42" {
		t.Errorf("Find() = %q, %v, %v", got, found, err)
	}

	if _, found, _ := Find(`zzz`, "abc"); found {
		t.Error("Find() reported a match for zzz")
	}

	all, err := FindAll(`\d`, "a1b2c3")
	if err != nil || !reflect.DeepEqual(all, []string{"1", "2", "3"}) {
		t.Errorf("FindAll() = %v, %v", all, err)
	}

	rep, err := Replace(`(\w+)@(\w+)`, "me@host", "$2 at $1")
	if err != nil || rep != "host at me" {
		t.Errorf("Replace() = %q, %v", rep, err)
	}

	parts, err := Split(`,\s*`, "a, b,c")
	if err != nil || !reflect.DeepEqual(parts, []string{"a", "b", "c"}) {
		t.Errorf("Split() = %v, %v", parts, err)
	}

	if _, err := Match(`(`, "x"); err == nil {
		t.Error("Match() should fail on an invalid pattern")
	}
}
