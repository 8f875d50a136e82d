package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ImageList is an ordered list of image URLs. Older rows stored images as a
// bare string or as a JSON-encoded array inside a string; all of those decode
// to the same canonical list.
type ImageList []string

func (l ImageList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

func (l *ImageList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = ImageList{}
		return nil
	}
	switch data[0] {
	case '[':
		var urls []string
		if err := json.Unmarshal(data, &urls); err != nil {
			return fmt.Errorf("images: %w", err)
		}
		*l = clean(urls)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("images: %w", err)
		}
		*l = ParseImages(s)
		return nil
	}
	return fmt.Errorf("images: unsupported value %s", data)
}

// ParseImages normalises a raw string that is either a single URL or a
// JSON array of URLs.
func ParseImages(raw string) ImageList {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ImageList{}
	}
	if strings.HasPrefix(raw, "[") {
		var urls []string
		if err := json.Unmarshal([]byte(raw), &urls); err == nil {
			return clean(urls)
		}
	}
	return clean([]string{raw})
}

func clean(urls []string) ImageList {
	out := make(ImageList, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}
