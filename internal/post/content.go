package post

import "strings"

// Content is the payload of a publish request.
//
// Text is required. Hashtags and Mentions are stored bare (no "#"/"@" prefix)
// and rendered per target. Overrides holds optional per-target suffix text
// keyed by target name.
type Content struct {
	Text      string            `json:"text"`
	ImagePath string            `json:"image_path,omitempty"`
	VideoPath string            `json:"video_path,omitempty"`
	Hashtags  []string          `json:"hashtags,omitempty"`
	Mentions  []string          `json:"mentions,omitempty"`
	Overrides map[string]string `json:"overrides,omitempty"`
}

// Render produces the final post text for one target: base text, hashtags,
// mentions, then the target-specific suffix (if any).
func (c Content) Render(target string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(c.Text))

	for _, tag := range c.Hashtags {
		tag = strings.TrimSpace(strings.TrimPrefix(tag, "#"))
		if tag == "" {
			continue
		}
		b.WriteString(" #")
		b.WriteString(tag)
	}
	for _, m := range c.Mentions {
		m = strings.TrimSpace(strings.TrimPrefix(m, "@"))
		if m == "" {
			continue
		}
		b.WriteString(" @")
		b.WriteString(m)
	}
	if extra := strings.TrimSpace(c.Overrides[target]); extra != "" {
		b.WriteString(" ")
		b.WriteString(extra)
	}
	return b.String()
}
