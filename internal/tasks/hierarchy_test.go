package tasks

import (
	"errors"
	"strings"
	"testing"
)

func TestChildDepthRootWhenParentNil(t *testing.T) {
	depth, err := ChildDepth(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if depth != 0 {
		t.Fatalf("expected root depth 0, got %d", depth)
	}
}

func TestChildDepthIncrementsParentDepth(t *testing.T) {
	for parentDepth := 0; parentDepth < MaxTaskDepth; parentDepth++ {
		depth, err := ChildDepth(&Task{Depth: parentDepth})
		if err != nil {
			t.Fatalf("unexpected error at parent depth %d: %v", parentDepth, err)
		}
		if depth != parentDepth+1 {
			t.Fatalf("expected depth %d, got %d", parentDepth+1, depth)
		}
	}
}

func TestChildDepthRejectsNestingBeyondCap(t *testing.T) {
	_, err := ChildDepth(&Task{Depth: MaxTaskDepth})
	if !errors.Is(err, ErrMaxDepthExceeded) {
		t.Fatalf("expected max depth error, got %v", err)
	}
}

func TestValidateTitleTrimsWhitespace(t *testing.T) {
	title, err := ValidateTitle("  Buy milk  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if title != "Buy milk" {
		t.Fatalf("expected trimmed title, got %q", title)
	}
}

func TestValidateTitleRejectsEmptyAndOversized(t *testing.T) {
	if _, err := ValidateTitle("   "); !errors.Is(err, ErrInvalidTitle) {
		t.Fatalf("expected invalid title for blank input, got %v", err)
	}
	if _, err := ValidateTitle(strings.Repeat("x", maxTitleLength+1)); !errors.Is(err, ErrInvalidTitle) {
		t.Fatalf("expected invalid title for oversized input, got %v", err)
	}
}

func TestValidateTitleCountsRunesNotBytes(t *testing.T) {
	title := strings.Repeat("日", maxTitleLength)
	accepted, err := ValidateTitle(title)
	if err != nil {
		t.Fatalf("expected max-length multibyte title to pass, got %v", err)
	}
	if accepted != title {
		t.Fatalf("unexpected title mutation")
	}
	if _, err := ValidateTitle(strings.Repeat("日", maxTitleLength+1)); !errors.Is(err, ErrInvalidTitle) {
		t.Fatalf("expected invalid title past the rune bound, got %v", err)
	}
}
