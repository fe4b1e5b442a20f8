package sqlstore

import (
	"errors"
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	t.Parallel()

	createdAt := time.Date(2025, 1, 2, 3, 4, 5, 600, time.UTC)
	cursor := EncodeCursor(createdAt, "log-1")
	if cursor == "" {
		t.Fatal("EncodeCursor() returned empty cursor")
	}

	gotTime, gotID, err := DecodeCursor(cursor)
	if err != nil {
		t.Fatalf("DecodeCursor() error: %v", err)
	}
	if !gotTime.Equal(createdAt) {
		t.Fatalf("created_at=%s, want %s", gotTime, createdAt)
	}
	if gotID != "log-1" {
		t.Fatalf("id=%q, want %q", gotID, "log-1")
	}
}

func TestEncodeCursorSkipsIncompleteKeys(t *testing.T) {
	t.Parallel()

	if got := EncodeCursor(time.Time{}, "log-1"); got != "" {
		t.Fatalf("EncodeCursor(zero time)=%q, want empty", got)
	}
	if got := EncodeCursor(time.Now(), ""); got != "" {
		t.Fatalf("EncodeCursor(empty id)=%q, want empty", got)
	}
}

func TestDecodeCursorRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	for _, cursor := range []string{"%%%", "bm8tc2VwYXJhdG9y", "bm90LWEtdGltZXxpZA"} {
		if _, _, err := DecodeCursor(cursor); !errors.Is(err, ErrInvalidCursor) {
			t.Fatalf("DecodeCursor(%q) error=%v, want ErrInvalidCursor", cursor, err)
		}
	}
}

func TestWhereBuilderNumbersPlaceholders(t *testing.T) {
	t.Parallel()

	builder := NewWhereBuilder()
	if got := builder.Where(); got != "1=1" {
		t.Fatalf("empty Where()=%q, want 1=1", got)
	}
	builder.AddComparison("tenant_id", "=", "acme")
	p := builder.AddArg(7)
	builder.AddCondition("version >= " + p)

	if got, want := builder.Where(), "tenant_id = $1 AND version >= $2"; got != want {
		t.Fatalf("Where()=%q, want %q", got, want)
	}
	if len(builder.Args()) != 2 {
		t.Fatalf("args=%v, want 2 entries", builder.Args())
	}
}
