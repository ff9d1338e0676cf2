package provider

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/go-ask-gateway/internal/domain"
)

// Placeholder is delivered when a response carries no usable text.
const Placeholder = "Sorry, I could not generate a response."

// now is a test seam for generated image names.
var now = time.Now

// Normalize extracts text, images and safety categories from a response
// tree. It never fails: unknown shapes are skipped, undecodable images are
// dropped, and empty text becomes Placeholder.
func Normalize(raw map[string]any) domain.NormalizedResponse {
	var (
		texts  []string
		images []domain.Image
	)

	outputs := list(raw, "output")
	if outputs == nil {
		outputs = list(raw, "outputs")
	}
	for _, o := range outputs {
		item, ok := o.(map[string]any)
		if !ok {
			continue
		}
		if str(item, "type") == "image_generation_call" {
			if result := str(item, "result"); result != "" {
				if data, ok := decodeBase64(result); ok {
					id := scalarString(item["id"])
					if id == "" {
						id = strconv.FormatInt(now().UnixMilli(), 10)
					}
					images = append(images, domain.Image{
						Data:        data,
						Filename:    fmt.Sprintf("image_%s.png", id),
						Mime:        "image/png",
						Description: str(item, "revised_prompt"),
					})
				}
				continue
			}
		}

		contents := list(item, "content")
		if contents == nil {
			contents = list(item, "data")
		}
		for _, c := range contents {
			texts, images = appendContent(c, texts, images)
		}
	}

	text := strings.Join(texts, "\n")
	if text == "" {
		text = str(raw, "output_text")
	}
	if text == "" {
		text = str(raw, "text")
	}
	if text == "" {
		text = Placeholder
	}

	return domain.NormalizedResponse{
		Text:             text,
		Images:           images,
		SafetyViolations: SafetyCategories(raw),
	}
}

func appendContent(c any, texts []string, images []domain.Image) ([]string, []domain.Image) {
	if s, ok := c.(string); ok {
		if s != "" {
			texts = append(texts, s)
		}
		return texts, images
	}
	entry, ok := c.(map[string]any)
	if !ok {
		return texts, images
	}

	kind := firstStr(entry, "type", "mime_type")
	switch kind {
	case "output_text", "text", "input_text", "output":
		if t := str(entry, "text"); t != "" {
			texts = append(texts, t)
		}
	}

	if kind != "output_image" && kind != "image" &&
		!has(entry, "image") && !has(entry, "b64_json") && !has(entry, "base64") {
		return texts, images
	}

	inner := obj(entry, "image")
	filename := firstStr(entry, "filename")
	if filename == "" {
		filename = "image.png"
	}
	desc := str(entry, "description")

	b64 := firstStr(entry, "b64_json", "base64")
	if b64 == "" {
		b64 = firstStr(inner, "b64", "b64_json", "base64")
	}
	if b64 != "" {
		if data, ok := decodeBase64(b64); ok {
			mime := firstStr(entry, "mime")
			if mime == "" {
				mime = "image/png"
			}
			images = append(images, domain.Image{Data: data, Filename: filename, Mime: mime, Description: desc})
		}
		return texts, images
	}

	url := firstStr(inner, "url")
	if url == "" {
		url = firstStr(entry, "url", "src", "href")
	}
	if url != "" {
		images = append(images, domain.Image{URL: url, Filename: filename, Description: desc})
	}
	return texts, images
}

// SafetyCategories merges the response-level violation list with per-item
// safety tags, de-duplicated in first-seen order.
func SafetyCategories(raw map[string]any) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range stringList(obj(raw, "safety")["violations"]) {
		add(s)
	}
	outputs := list(raw, "output")
	if outputs == nil {
		outputs = list(raw, "outputs")
	}
	for _, o := range outputs {
		if item, ok := o.(map[string]any); ok {
			add(strings.TrimSpace(str(item, "safety_category")))
		}
	}
	return out
}

// decodeBase64 accepts padded or raw, standard or URL-safe alphabets, with
// optional data-URL prefix and embedded whitespace.
func decodeBase64(s string) ([]byte, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if _, rest, ok := strings.Cut(s, ","); ok {
			s = rest
		}
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, false
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil && len(b) > 0 {
			return b, true
		}
	}
	return nil, false
}
