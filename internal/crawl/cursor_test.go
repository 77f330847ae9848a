package crawl

import (
	"testing"
)

func strPtr(s string) *string { return &s }

func TestDecodeCursorEmptyBlob(t *testing.T) {
	c, err := DecodeCursor(nil)
	if err != nil {
		t.Fatalf("DecodeCursor(nil): %v", err)
	}
	if c.Global != nil || c.SearchCursors != nil || c.TagCursors != nil {
		t.Fatalf("expected zero-value cursor, got %+v", c)
	}
}

func TestDecodeCursorNullBlob(t *testing.T) {
	c, err := DecodeCursor([]byte("null"))
	if err != nil {
		t.Fatalf("DecodeCursor(null): %v", err)
	}
	if c.Global != nil {
		t.Fatalf("expected zero-value cursor, got %+v", c)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := Cursor{
		Global:        strPtr("g-100"),
		SearchCursors: map[string]*string{"portrait": strPtr("s-1")},
		TagCursors:    map[string]*string{"photo": nil},
	}
	blob, err := c.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := DecodeCursor(blob)
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if *decoded.Global != "g-100" {
		t.Fatalf("Global = %v, want g-100", decoded.Global)
	}
	if *decoded.SearchCursors["portrait"] != "s-1" {
		t.Fatalf("SearchCursors[portrait] = %v, want s-1", decoded.SearchCursors["portrait"])
	}
	if decoded.TagCursors["photo"] != nil {
		t.Fatal("expected tag cursor 'photo' to remain null")
	}
}

func TestMergeOverwritesAndDropsExhausted(t *testing.T) {
	prior := Cursor{
		SearchCursors: map[string]*string{
			"portrait": strPtr("s-1"),
			"landscape": strPtr("s-5"),
		},
	}
	result := DiscoveryResult{
		NextCursor: strPtr("g-200"),
		SearchCursors: map[string]*string{
			"portrait":  strPtr("s-2"), // advances
			"landscape": nil,           // exhausted, dropped
		},
	}

	merged := prior.Merge(result)

	if *merged.Global != "g-200" {
		t.Fatalf("Global = %v, want g-200", merged.Global)
	}
	if *merged.SearchCursors["portrait"] != "s-2" {
		t.Fatalf("portrait cursor = %v, want s-2", merged.SearchCursors["portrait"])
	}
	if _, exists := merged.SearchCursors["landscape"]; exists {
		t.Fatal("expected exhausted 'landscape' term to be dropped from merged map")
	}
}

func TestMergeKeepsAllExhaustedWhenEveryTermExhaustedOnFirstCrawl(t *testing.T) {
	prior := Cursor{} // first-ever crawl, no prior state
	result := DiscoveryResult{
		TagCursors: map[string]*string{
			"nsfw":  nil,
			"photo": nil,
		},
	}

	merged := prior.Merge(result)

	if len(merged.TagCursors) != 2 {
		t.Fatalf("expected both exhausted terms retained as null, got %+v", merged.TagCursors)
	}
	for k, v := range merged.TagCursors {
		if v != nil {
			t.Fatalf("expected tag cursor %q to be null, got %v", k, *v)
		}
	}
}

func TestExhaustedCount(t *testing.T) {
	m := map[string]*string{
		"a": strPtr("cursor"),
		"b": nil,
		"c": nil,
	}
	if got := ExhaustedCount(m); got != 2 {
		t.Fatalf("ExhaustedCount = %d, want 2", got)
	}
}
