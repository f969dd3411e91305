package llm

import (
	"strings"
	"testing"
)

func TestNewContentPreservesOrder(t *testing.T) {
	c, err := NewContent(
		"start",
		map[string]any{"image": "chart.png"},
		map[string]any{"json": map[string]any{"data": 123}},
		Pair{Value: "end", Extras: map[string]any{"style": "bold"}},
	)
	if err != nil {
		t.Fatalf("NewContent: %v", err)
	}

	blocks := c.Blocks()
	if len(blocks) != 4 {
		t.Fatalf("expected 4 blocks, got %d", len(blocks))
	}

	wantKinds := []BlockKind{BlockText, BlockImage, BlockJSON, BlockText}
	for i, want := range wantKinds {
		if blocks[i].Kind != want {
			t.Errorf("block %d: expected kind %q, got %q", i, want, blocks[i].Kind)
		}
	}
	if blocks[0].Payload != "start" || blocks[3].Payload != "end" {
		t.Errorf("expected text payloads start/end, got %v/%v", blocks[0].Payload, blocks[3].Payload)
	}
	if !blocks[3].HasExtra("style") {
		t.Error("expected pair extras to reach the produced block")
	}
}

func TestNewContentManyTexts(t *testing.T) {
	items := []any{"a", "b", "c", "d", "e"}
	c, err := NewContent(items...)
	if err != nil {
		t.Fatalf("NewContent: %v", err)
	}
	for i, b := range c.Blocks() {
		if b.Payload != items[i] {
			t.Errorf("block %d: expected %v, got %v", i, items[i], b.Payload)
		}
	}
}

func TestNewContentRejectsBadItems(t *testing.T) {
	tests := []struct {
		name string
		item any
	}{
		{"unsupported type", 42},
		{"multi-key map", map[string]any{"image": "a.png", "json": 1}},
		{"unknown key", map[string]any{"video": "a.mp4"}},
		{"non-string image", map[string]any{"image": 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewContent(tt.item); err == nil {
				t.Errorf("expected error for %v, got nil", tt.item)
			}
		})
	}
}

func TestExtrasFolding(t *testing.T) {
	b := TextBlock("x", WithExtra("style", "bold"))

	if !b.HasExtra("style") {
		t.Error("expected has_extra(style) to be true")
	}
	if b.HasExtra("missing") {
		t.Error("expected has_extra(missing) to be false")
	}
	if v, _ := b.Extra("style"); v != "bold" {
		t.Errorf("expected extras style=bold, got %v", v)
	}
	if b.Payload != "x" || b.Kind != BlockText {
		t.Errorf("expected payload/kind untouched by extras, got %v/%v", b.Payload, b.Kind)
	}
}

func TestExtrasReservedKeys(t *testing.T) {
	b := JSONBlock(map[string]any{"a": 1}, WithExtra("kind", "text"), WithExtra("payload", "y"), WithExtra("source", "api"))

	if b.HasExtra("kind") || b.HasExtra("payload") {
		t.Error("reserved keys must never land in extras")
	}
	if !b.HasExtra("source") {
		t.Error("expected source extra to be kept")
	}
	if b.Kind != BlockJSON {
		t.Errorf("expected kind json, got %q", b.Kind)
	}
}

func TestEachBlockOwnsItsExtras(t *testing.T) {
	shared := map[string]any{"caption": "one"}
	a := ImageBlock("a.png", WithExtras(shared))
	b := ImageBlock("b.png", WithExtras(shared))

	a.SetExtra("caption", "changed")
	if v, _ := b.Extra("caption"); v != "one" {
		t.Errorf("blocks share an extras map: got %v", v)
	}
	shared["caption"] = "mutated"
	if v, _ := b.Extra("caption"); v != "one" {
		t.Errorf("caller map was retained: got %v", v)
	}
}

func TestDisplayRendering(t *testing.T) {
	tests := []struct {
		name  string
		block ContentBlock
		want  string
	}{
		{"plain text", TextBlock("hello"), "hello"},
		{"bold text", TextBlock("hello", WithExtra("style", "bold")), "[bold]hello[/bold]"},
		{"italic text", TextBlock("hi", WithExtra("style", "italic")), "[italic]hi[/italic]"},
		{"unknown style", TextBlock("hi", WithExtra("style", "mono")), "hi"},
		{"image", ImageBlock("chart.png"), "[image: chart.png]"},
		{"image alt", ImageBlock("chart.png", WithExtra("alt_text", "sales")), "[image: chart.png - sales]"},
		{"image caption", ImageBlock("chart.png", WithExtra("caption", "Q3")), "[image: chart.png - Q3]"},
		{"alt wins over caption", ImageBlock("c.png", WithExtra("caption", "cap"), WithExtra("alt_text", "alt")), "[image: c.png - alt]"},
		{"json", JSONBlock(map[string]any{"a": 1}), `[json: {"a":1}]`},
		{"json source", JSONBlock(map[string]any{"a": 1}, WithExtra("source", "api")), `[json(api): {"a":1}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.block.Display(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestContentDisplaySpaceJoined(t *testing.T) {
	c, err := NewContent("look", map[string]any{"image": "a.png"}, map[string]any{"json": map[string]any{"k": 1}})
	if err != nil {
		t.Fatalf("NewContent: %v", err)
	}
	want := `look [image: a.png] [json: {"k":1}]`
	if got := c.Display(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestMessageDisplay(t *testing.T) {
	plain := NewTextMessage(RoleUser, "hello")
	if plain.Display() != "hello" {
		t.Errorf("expected plain display, got %q", plain.Display())
	}
	if plain.ID == "" {
		t.Error("expected generated message id")
	}
	if plain.Timestamp.IsZero() {
		t.Error("expected timestamp to be stamped")
	}

	c := (&Content{}).AddText("a").AddJSON(map[string]any{"b": 2})
	structured := NewMessage(RoleAssistant, c)
	if !strings.Contains(structured.Display(), "a") || !strings.Contains(structured.Display(), `{"b":2}`) {
		t.Errorf("expected structured display to flatten blocks, got %q", structured.Display())
	}
	if structured.ID == plain.ID {
		t.Error("expected unique message ids")
	}
}
