package llm

import (
	"encoding/json"
	"fmt"
)

// BlockKind identifies what a ContentBlock carries.
type BlockKind string

const (
	BlockText  BlockKind = "text"
	BlockImage BlockKind = "image"
	BlockJSON  BlockKind = "json"
)

// Reserved extras keys. They mirror the block's own fields and never
// appear inside the extras map.
const (
	reservedKindKey    = "kind"
	reservedPayloadKey = "payload"
)

// ContentBlock is one atomic piece of message content. Kind and Payload
// are fixed at construction; extras may be read and written through the
// accessors until the block is serialized.
//
// Payload holds a string for text blocks, a local path or URL string for
// image blocks, and any JSON-serializable value for json blocks.
type ContentBlock struct {
	Kind    BlockKind
	Payload any

	// Presentation hints (style, caption, alt_text, source) or derived
	// data (a resolved image path). Every block owns its own map.
	extras map[string]any
}

// BlockOption configures a ContentBlock at construction.
type BlockOption func(*ContentBlock)

// WithExtra attaches a single extras entry.
func WithExtra(key string, value any) BlockOption {
	return func(b *ContentBlock) { b.SetExtra(key, value) }
}

// WithExtras attaches every entry of m. The map is copied, never retained.
func WithExtras(m map[string]any) BlockOption {
	return func(b *ContentBlock) {
		for k, v := range m {
			b.SetExtra(k, v)
		}
	}
}

func newBlock(kind BlockKind, payload any, opts []BlockOption) ContentBlock {
	b := ContentBlock{Kind: kind, Payload: payload, extras: map[string]any{}}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// TextBlock creates a text content block.
func TextBlock(text string, opts ...BlockOption) ContentBlock {
	return newBlock(BlockText, text, opts)
}

// ImageBlock creates an image content block referencing a local path or URL.
// The reference is stored verbatim; resolution happens at normalize time.
func ImageBlock(ref string, opts ...BlockOption) ContentBlock {
	return newBlock(BlockImage, ref, opts)
}

// JSONBlock creates a json content block.
func JSONBlock(v any, opts ...BlockOption) ContentBlock {
	return newBlock(BlockJSON, v, opts)
}

// Extra returns the extras value stored under key.
func (b *ContentBlock) Extra(key string) (any, bool) {
	v, ok := b.extras[key]
	return v, ok
}

// SetExtra stores an extras entry. The reserved keys "kind" and "payload"
// are ignored; those live on the block itself.
func (b *ContentBlock) SetExtra(key string, value any) {
	if key == reservedKindKey || key == reservedPayloadKey {
		return
	}
	if b.extras == nil {
		b.extras = map[string]any{}
	}
	b.extras[key] = value
}

// HasExtra reports whether an extras entry exists under key.
func (b *ContentBlock) HasExtra(key string) bool {
	_, ok := b.extras[key]
	return ok
}

// Extras returns a copy of the extras map, nil when there are none.
func (b *ContentBlock) Extras() map[string]any {
	if len(b.extras) == 0 {
		return nil
	}
	m := make(map[string]any, len(b.extras))
	for k, v := range b.extras {
		m[k] = v
	}
	return m
}

// Display renders the block as human-readable text: text payloads as-is
// (bracket-styled when extras.style is bold or italic), images as
// "[image: ref]" with an optional alt_text/caption annotation, json as
// "[json: <compact JSON>]" with an optional source annotation.
func (b *ContentBlock) Display() string {
	switch b.Kind {
	case BlockText:
		text := payloadString(b.Payload)
		if style, ok := b.extras["style"].(string); ok && (style == "bold" || style == "italic") {
			return fmt.Sprintf("[%s]%s[/%s]", style, text, style)
		}
		return text
	case BlockImage:
		ref := payloadString(b.Payload)
		if note, ok := imageAnnotation(b.extras); ok {
			return fmt.Sprintf("[image: %s - %s]", ref, note)
		}
		return fmt.Sprintf("[image: %s]", ref)
	case BlockJSON:
		compact := CompactJSON(b.Payload)
		if src, ok := b.extras["source"]; ok {
			return fmt.Sprintf("[json(%s): %s]", payloadString(src), compact)
		}
		return fmt.Sprintf("[json: %s]", compact)
	default:
		return payloadString(b.Payload)
	}
}

// imageAnnotation picks the display annotation for an image block;
// alt_text wins over caption.
func imageAnnotation(extras map[string]any) (string, bool) {
	if v, ok := extras["alt_text"]; ok {
		return payloadString(v), true
	}
	if v, ok := extras["caption"]; ok {
		return payloadString(v), true
	}
	return "", false
}

func payloadString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// CompactJSON renders v as compact JSON, falling back to plain formatting
// for values that cannot be marshaled.
func CompactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
