package storage

import (
	"math"
	"testing"

	qdrant "github.com/qdrant/go-client/qdrant"
)

func TestSanitizeRate(t *testing.T) {
	testCases := []struct {
		name string
		in   float64
		want float64
	}{
		{name: "rounds to four places", in: 0.9632000000000001, want: 0.9632},
		{name: "rounds half up", in: 0.12345, want: 0.1235},
		{name: "clamps negative", in: -0.5, want: 0},
		{name: "clamps above one", in: 1.7, want: 1},
		{name: "nan", in: math.NaN(), want: 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sanitizeRate(tc.in); got != tc.want {
				t.Errorf("sanitizeRate(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestSanitizeJSONForPostgres(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{in: `{"text":"a\u0000b"}`, want: `{"text":"ab"}`},
		{in: `{"text":"a\u001fb"}`, want: `{"text":"a b"}`},
		{in: `{"text":"é"}`, want: `{"text":"é"}`},
	}
	for _, tc := range testCases {
		if got := string(sanitizeJSONForPostgres([]byte(tc.in))); got != tc.want {
			t.Errorf("sanitizeJSONForPostgres(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestToPayload(t *testing.T) {
	payload := toPayload(map[string]interface{}{
		"label":   "a",
		"word_id": 7,
		"clone":   true,
		"score":   0.5,
		"box":     []int{1, 2},
	})

	if got := payload["label"].GetStringValue(); got != "a" {
		t.Errorf("label = %q", got)
	}
	if got := payload["word_id"].GetIntegerValue(); got != 7 {
		t.Errorf("word_id = %d", got)
	}
	if got := payload["clone"].GetBoolValue(); !got {
		t.Error("clone should be true")
	}
	if got := payload["score"].GetDoubleValue(); got != 0.5 {
		t.Errorf("score = %v", got)
	}
	if _, ok := payload["box"].Kind.(*qdrant.Value_StringValue); !ok {
		t.Errorf("unknown types should fall back to strings, got %T", payload["box"].Kind)
	}
}
