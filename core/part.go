package core

// Part represents a polymorphic segment of role-based content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text     string         `json:"text"`               // Plain UTF-8 text
	Metadata map[string]any `json:"metadata,omitempty"` // Optional producer-provided metadata
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// ImagePart is an image content segment. Either Data is inlined or Ref points
// at an image the model adapter (or an ImageLoader) can resolve.
type ImagePart struct {
	Ref      ImageRef       `json:"ref"`                 // Source reference (upload key, path or URL)
	Data     []byte         `json:"-"`                   // Inlined encoded image bytes (PNG/JPEG)
	MimeType string         `json:"mime_type,omitempty"` // MIME type of Data, e.g. image/png
	Metadata map[string]any `json:"metadata,omitempty"`
}

// isPart implements the Part interface for ImagePart.
func (ImagePart) isPart() {}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Content holds role + ordered parts. A conversation is an append-only
// sequence of Content values.
type Content struct {
	Role  Role   `json:"role,omitempty"` // Conversation role (system, user, assistant, tool)
	Parts []Part `json:"parts"`          // Ordered heterogeneous parts
}

// NewTextContent builds a single text part message.
func NewTextContent(role Role, text string) Content {
	return Content{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// Text concatenates all text parts of the content in order.
func (c Content) Text() string {
	var out string
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// Images returns the image parts of the content preserving their order.
func (c Content) Images() []ImagePart {
	var images []ImagePart
	for _, p := range c.Parts {
		if ip, ok := p.(ImagePart); ok {
			images = append(images, ip)
		}
	}
	return images
}
