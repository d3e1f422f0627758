package jsoncodec

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

type testPayload struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestMarshalAndUnmarshal(t *testing.T) {
	in := testPayload{ID: 42, Name: "mbus"}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var out testPayload
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if out != in {
		t.Fatalf("expected round trip to match, got %#v", out)
	}

	indented, err := MarshalIndent(in, "", "  ")
	if err != nil {
		t.Fatalf("marshal indent failed: %v", err)
	}
	if !strings.Contains(string(indented), "\n  \"id\"") {
		t.Fatalf("expected indented output, got %s", string(indented))
	}
}

func TestEncodeAndDecode(t *testing.T) {
	buf := &bytes.Buffer{}
	payload := testPayload{ID: 7, Name: "stream"}

	if err := Encode(buf, payload); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var decoded testPayload
	if err := Decode(buf, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if decoded != payload {
		t.Fatalf("expected decoded payload to match, got %#v", decoded)
	}
}

func TestToObject(t *testing.T) {
	t.Run("struct becomes object", func(t *testing.T) {
		obj, err := ToObject(testPayload{ID: 3, Name: "bob"})
		if err != nil {
			t.Fatalf("ToObject failed: %v", err)
		}
		if obj["name"] != "bob" {
			t.Fatalf("expected name field, got %#v", obj)
		}
	})

	t.Run("map passes through", func(t *testing.T) {
		obj, err := ToObject(map[string]any{"testParam": 5})
		if err != nil {
			t.Fatalf("ToObject failed: %v", err)
		}
		if obj["testParam"].(json.Number).String() != "5" {
			t.Fatalf("expected numeric literal preserved, got %#v", obj["testParam"])
		}
	})

	t.Run("large numbers keep their literal form", func(t *testing.T) {
		obj, err := ToObject(map[string]any{"n": 1000000})
		if err != nil {
			t.Fatalf("ToObject failed: %v", err)
		}
		if obj["n"].(json.Number).String() != "1000000" {
			t.Fatalf("expected 1000000, got %v", obj["n"])
		}
	})

	t.Run("scalar is rejected", func(t *testing.T) {
		if _, err := ToObject(42); err == nil {
			t.Fatal("expected an error for non-object value")
		}
	})

	t.Run("array is rejected", func(t *testing.T) {
		if _, err := ToObject([]string{"a"}); err == nil {
			t.Fatal("expected an error for non-object value")
		}
	})
}
