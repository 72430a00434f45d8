package feed

import (
	"errors"
	"testing"
)

func TestParseOperationAcceptsKnownKinds(t *testing.T) {
	cases := map[string]Operation{
		"insert":  OperationInsert,
		"UPDATE":  OperationUpdate,
		" delete": OperationDelete,
	}
	for raw, want := range cases {
		got, err := ParseOperation(raw)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("expected %s for %q, got %s", want, raw, got)
		}
	}
}

func TestParseOperationRejectsUnknownKind(t *testing.T) {
	_, err := ParseOperation("truncate")
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestRowStringHandlesMissingAndTypedValues(t *testing.T) {
	row := Row{"content": "hello", "count": 3, "empty": nil}

	if got := row.String("content"); got != "hello" {
		t.Fatalf("expected hello, got %q", got)
	}
	if got := row.String("count"); got != "3" {
		t.Fatalf("expected rendered number, got %q", got)
	}
	if got := row.String("empty"); got != "" {
		t.Fatalf("expected empty string for nil value, got %q", got)
	}
	if got := row.String("absent"); got != "" {
		t.Fatalf("expected empty string for absent key, got %q", got)
	}
	if got := Row(nil).String("anything"); got != "" {
		t.Fatalf("expected empty string for nil row, got %q", got)
	}
}
