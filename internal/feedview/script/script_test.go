package script

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/Lesnak1/Opinion-Lens/internal/domain"
	"github.com/Lesnak1/Opinion-Lens/internal/feedview/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParse_RejectsUnknownKind(t *testing.T) {
	_, err := Parse(strings.NewReader(`{"steps":[{"kind":"explode"}]}`))
	if !errors.Is(err, domain.ErrParse) {
		t.Fatalf("expected ErrParse for unknown kind, got %v", err)
	}
}

func TestParse_RejectsMissingPostID(t *testing.T) {
	_, err := Parse(strings.NewReader(`{"steps":[{"kind":"add","text":"hi"}]}`))
	if !errors.Is(err, domain.ErrParse) {
		t.Fatalf("expected ErrParse for missing post id, got %v", err)
	}
}

func TestRunner_AppliesSteps(t *testing.T) {
	src := `{"steps":[
		{"kind":"add","post":"p1","text":"BTC to $100k","links":["https://x.example/t?topicId=101"]},
		{"kind":"set_visible","post":"p1","visible":false},
		{"kind":"add","post":"p2","text":"second post"},
		{"kind":"set_text","post":"p2","text":"recycled content"},
		{"kind":"remove","post":"p1"},
		{"kind":"navigate","posts":[{"id":"p3","text":"after navigation"}]}
	]}`

	s, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	feed := memory.New()
	if err := NewRunner(feed, testLogger()).Run(context.Background(), s); err != nil {
		t.Fatalf("Run: %v", err)
	}

	posts, err := feed.CandidatePosts()
	if err != nil {
		t.Fatalf("CandidatePosts: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "p3" || posts[0].Text != "after navigation" {
		t.Fatalf("navigation must replace the feed, got %+v", posts)
	}
}

func TestRunner_InvalidateTearsDownFeed(t *testing.T) {
	s, err := Parse(strings.NewReader(`{"steps":[
		{"kind":"add","post":"p1","text":"hello"},
		{"kind":"invalidate"}
	]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	feed := memory.New()
	if err := NewRunner(feed, testLogger()).Run(context.Background(), s); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := feed.CandidatePosts(); !errors.Is(err, domain.ErrHostInvalidated) {
		t.Fatalf("expected host invalidated after teardown, got %v", err)
	}
}
