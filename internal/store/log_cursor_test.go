package store

import (
	"testing"
	"time"
)

func TestLogCursorRoundTrip(t *testing.T) {
	createdAt := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	cursor := EncodeLogCursor(createdAt, 42)

	gotTime, gotID, err := DecodeLogCursor(cursor)
	if err != nil {
		t.Fatalf("decode cursor: %v", err)
	}
	if !gotTime.Equal(createdAt) {
		t.Fatalf("createdAt = %v, want %v", gotTime, createdAt)
	}
	if gotID != 42 {
		t.Fatalf("id = %d, want 42", gotID)
	}
}

func TestDecodeLogCursorRejectsGarbage(t *testing.T) {
	for _, cursor := range []string{
		"not base64 !!",
		"aGVsbG8",              // decodes but has no separator
		"fDE",                  // "|1" with empty timestamp
		"MTIzfGFiYw",           // "123|abc" non-numeric id
	} {
		if _, _, err := DecodeLogCursor(cursor); err == nil {
			t.Fatalf("expected error for cursor %q", cursor)
		}
	}
}
