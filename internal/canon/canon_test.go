package canon

import "testing"

func TestEncodeSortsMapKeys(t *testing.T) {
	a, err := Encode(map[string]any{"b": 1, "a": 2})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := Encode(map[string]any{"a": 2, "b": 1})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("expected key order independence, got %q vs %q", a, b)
	}
	if string(a) != `{"a":2,"b":1}` {
		t.Errorf("unexpected encoding: %q", a)
	}
}

func TestEncodePreservesArrayOrder(t *testing.T) {
	data, err := Encode([]any{3, 1, 2})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(data) != "[3,1,2]" {
		t.Errorf("expected array order preserved, got %q", data)
	}
}

func TestEncodePrimitives(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "null"},
		{"true", true, "true"},
		{"false", false, "false"},
		{"string", "hi", `"hi"`},
		{"float", 1.5, "1.5"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			data, err := Encode(c.in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if string(data) != c.want {
				t.Errorf("Encode(%v) = %q, want %q", c.in, data, c.want)
			}
		})
	}
}

func TestEncodeNestedDeterministic(t *testing.T) {
	value := map[string]any{
		"z": []any{1, 2, map[string]any{"y": 1, "x": 2}},
		"a": "hello",
	}
	first, err := Encode(value)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	second, err := Encode(value)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("expected deterministic output, got %q vs %q", first, second)
	}
}

func TestEncodeStructNormalizesThroughJSON(t *testing.T) {
	type point struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	data, err := Encode(point{X: 1, Y: 2})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(data) != `{"x":1,"y":2}` {
		t.Errorf("unexpected encoding: %q", data)
	}
}
