package json

import (
	"strings"
	"testing"
)

type testPayload struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func TestPureJSON(t *testing.T) {
	result, err := Decode[testPayload](`{"name": "test", "value": 42}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Name != "test" || result.Value != 42 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestJSONWithSurroundingProse(t *testing.T) {
	response := `Here is the result: {"name": "test", "value": 42} Let me know if you need more.`
	result, err := Decode[testPayload](response)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Value != 42 {
		t.Errorf("expected value 42, got %d", result.Value)
	}
}

func TestFencedBlock(t *testing.T) {
	response := "Sure.\n```json\n{\"name\": \"fenced\", \"value\": 1}\n```\nDone."
	result, err := Decode[testPayload](response)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Name != "fenced" {
		t.Errorf("expected name 'fenced', got '%s'", result.Name)
	}
}

func TestBracesInsideStrings(t *testing.T) {
	response := `note {oops} then {"name": "a } b", "value": 7}`
	result, err := Decode[testPayload](response)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Name != "a } b" {
		t.Errorf("expected name 'a } b', got '%s'", result.Name)
	}
}

func TestArray(t *testing.T) {
	result, err := Decode[[]testPayload](`Findings: [{"name": "x", "value": 1}, {"name": "y", "value": 2}]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 items, got %d", len(result))
	}
}

func TestDecodeSkipsCandidatesOfTheWrongShape(t *testing.T) {
	response := "See line [12] below.\n{\"name\": \"revenue\", \"value\": 12}"

	raw, err := Extract(response)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw != "[12]" {
		t.Errorf("expected first candidate [12], got %s", raw)
	}

	result, err := Decode[testPayload](response)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Name != "revenue" {
		t.Errorf("expected name 'revenue', got '%s'", result.Name)
	}
}

func TestCandidatesInOrder(t *testing.T) {
	got := Candidates(`a [1] b {"x": [2]} c {bad} d {"y": 3}`)
	want := []string{"[1]", `{"x": [2]}`, `{"y": 3}`}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidate %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestNoJSON(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"empty", ""},
		{"prose", "I could not find anything relevant."},
		{"unbalanced", `{"name": "x"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Extract(tt.response); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestErrorPreviewTruncated(t *testing.T) {
	_, err := Extract(strings.Repeat("z", 500))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "...") {
		t.Errorf("expected truncated preview, got %v", err)
	}
}
