// Package script replays a JSON-described feed session against the in-memory
// feed host, so the whole pipeline can be demonstrated and verified without a
// browser. A script is a list of timed steps: posts appearing, text being
// recycled, visibility changes, navigations, and teardown.
package script

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Lesnak1/Opinion-Lens/internal/domain"
	"github.com/Lesnak1/Opinion-Lens/internal/feedview/memory"
)

// Step is one scripted feed event. Kind selects the action; the remaining
// fields are interpreted per kind.
type Step struct {
	// DelayMS is how long to wait before applying this step.
	DelayMS int `json:"delay_ms"`

	// Kind is one of: add, set_text, set_visible, remove, navigate,
	// invalidate.
	Kind string `json:"kind"`

	Post    string   `json:"post,omitempty"`
	Text    string   `json:"text,omitempty"`
	Links   []string `json:"links,omitempty"`
	Visible bool     `json:"visible,omitempty"`

	// Posts is the replacement feed content for a navigate step.
	Posts []ScriptPost `json:"posts,omitempty"`
}

// ScriptPost describes one post in a navigate step.
type ScriptPost struct {
	ID    string   `json:"id"`
	Text  string   `json:"text"`
	Links []string `json:"links,omitempty"`
}

// Script is a full replay session.
type Script struct {
	Steps []Step `json:"steps"`
}

// Parse decodes a script from JSON.
func Parse(r io.Reader) (Script, error) {
	var s Script
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Script{}, fmt.Errorf("script: decode: %w: %v", domain.ErrParse, err)
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return Script{}, fmt.Errorf("script: step %d: %w", i, err)
		}
	}
	return s, nil
}

func validateStep(step Step) error {
	switch step.Kind {
	case "add", "set_text":
		if step.Post == "" {
			return fmt.Errorf("%w: missing post id", domain.ErrParse)
		}
	case "set_visible", "remove":
		if step.Post == "" {
			return fmt.Errorf("%w: missing post id", domain.ErrParse)
		}
	case "navigate", "invalidate":
	default:
		return fmt.Errorf("%w: unknown step kind %q", domain.ErrParse, step.Kind)
	}
	return nil
}

// Runner drives a memory feed through a script.
type Runner struct {
	feed   *memory.Feed
	logger *slog.Logger
}

// NewRunner creates a runner for the given feed.
func NewRunner(feed *memory.Feed, logger *slog.Logger) *Runner {
	return &Runner{
		feed:   feed,
		logger: logger.With(slog.String("component", "feed_script")),
	}
}

// Run applies every step in order, honoring delays, until the script ends or
// the context is cancelled.
func (r *Runner) Run(ctx context.Context, s Script) error {
	for i, step := range s.Steps {
		if step.DelayMS > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(step.DelayMS) * time.Millisecond):
			}
		}

		r.logger.Debug("applying step",
			slog.Int("step", i),
			slog.String("kind", step.Kind),
			slog.String("post", step.Post),
		)
		r.apply(step)
	}
	return nil
}

func (r *Runner) apply(step Step) {
	switch step.Kind {
	case "add":
		r.feed.AddPost(domain.PostID(step.Post), step.Text, step.Links...)
	case "set_text":
		r.feed.SetText(domain.PostID(step.Post), step.Text, step.Links...)
	case "set_visible":
		r.feed.SetVisible(domain.PostID(step.Post), step.Visible)
	case "remove":
		r.feed.RemovePost(domain.PostID(step.Post))
	case "navigate":
		posts := make([]domain.Post, 0, len(step.Posts))
		for _, p := range step.Posts {
			posts = append(posts, domain.Post{ID: domain.PostID(p.ID), Text: p.Text, Links: p.Links})
		}
		r.feed.Navigate(posts...)
	case "invalidate":
		r.feed.Invalidate()
	}
}
