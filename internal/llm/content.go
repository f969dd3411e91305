package llm

import (
	"fmt"
	"strings"
)

// Content is an ordered sequence of content blocks. Insertion order is
// significant and preserved verbatim; nothing ever re-sorts blocks.
type Content struct {
	blocks []ContentBlock
}

// Pair couples a value with an extras map inside a NewContent item list.
type Pair struct {
	Value  any
	Extras map[string]any
}

// NewContent builds structured content from a flat list of mixed items:
//
//	"free text"                       text block
//	map[string]any{"text": s}         text block
//	map[string]any{"image": ref}      image block
//	map[string]any{"json": v}         json block
//	Pair{Value: item, Extras: m}      any of the above, plus extras
//	ContentBlock                      appended as-is
//
// Any other item is an error.
func NewContent(items ...any) (*Content, error) {
	c := &Content{}
	for i, item := range items {
		var opts []BlockOption
		if p, ok := item.(Pair); ok {
			item = p.Value
			if p.Extras != nil {
				opts = append(opts, WithExtras(p.Extras))
			}
		}

		switch v := item.(type) {
		case string:
			c.AddText(v, opts...)
		case ContentBlock:
			c.blocks = append(c.blocks, v)
		case map[string]any:
			if err := c.addMapItem(v, opts); err != nil {
				return nil, fmt.Errorf("content item %d: %w", i, err)
			}
		default:
			return nil, fmt.Errorf("content item %d: unsupported type %T", i, item)
		}
	}
	return c, nil
}

func (c *Content) addMapItem(m map[string]any, opts []BlockOption) error {
	if len(m) != 1 {
		return fmt.Errorf("map item must have exactly one of the keys text/image/json, got %d keys", len(m))
	}
	if raw, ok := m["text"]; ok {
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("text item must be a string, got %T", raw)
		}
		c.AddText(s, opts...)
		return nil
	}
	if raw, ok := m["image"]; ok {
		ref, ok := raw.(string)
		if !ok {
			return fmt.Errorf("image item must be a string path or URL, got %T", raw)
		}
		c.AddImage(ref, opts...)
		return nil
	}
	if raw, ok := m["json"]; ok {
		c.AddJSON(raw, opts...)
		return nil
	}
	return fmt.Errorf("map item must have one of the keys text/image/json")
}

// AddText appends a text block and returns the Content for chaining.
func (c *Content) AddText(text string, opts ...BlockOption) *Content {
	c.blocks = append(c.blocks, TextBlock(text, opts...))
	return c
}

// AddImage appends an image block and returns the Content for chaining.
func (c *Content) AddImage(ref string, opts ...BlockOption) *Content {
	c.blocks = append(c.blocks, ImageBlock(ref, opts...))
	return c
}

// AddJSON appends a json block and returns the Content for chaining.
func (c *Content) AddJSON(v any, opts ...BlockOption) *Content {
	c.blocks = append(c.blocks, JSONBlock(v, opts...))
	return c
}

// Blocks returns the block sequence in insertion order. The slice is a
// copy; the blocks still share their extras maps with the Content.
func (c *Content) Blocks() []ContentBlock {
	out := make([]ContentBlock, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// Len reports the number of blocks.
func (c *Content) Len() int { return len(c.blocks) }

// Display flattens the content to one line, space-joining each block's
// rendering in insertion order.
func (c *Content) Display() string {
	parts := make([]string, 0, len(c.blocks))
	for i := range c.blocks {
		parts = append(parts, c.blocks[i].Display())
	}
	return strings.Join(parts, " ")
}
