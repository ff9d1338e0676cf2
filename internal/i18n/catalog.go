// Package i18n resolves user-facing strings by locale. Catalogs are YAML
// documents mapping BCP 47 tags to key/value messages; lookups use language
// matching so "en" or "en-AU" still land on the closest entry.
package i18n

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"gopkg.in/yaml.v3"
)

// DefaultLocale is used when a trigger carries no locale.
const DefaultLocale = "en-US"

//go:embed locales.yaml
var embedded []byte

// Catalog is an immutable, concurrency-safe message table.
type Catalog struct {
	tags     []language.Tag
	messages []map[string]string
	matcher  language.Matcher
}

// Load reads a catalog from path, or the embedded default when path is "".
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(embedded)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(b)
}

// Parse builds a catalog from YAML. The default locale, when present, is
// the fallback for unmatched languages.
func Parse(data []byte) (*Catalog, error) {
	var raw map[string]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("parse catalog: no locales")
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == DefaultLocale || keys[j] == DefaultLocale {
			return keys[i] == DefaultLocale
		}
		return keys[i] < keys[j]
	})

	c := &Catalog{}
	for _, k := range keys {
		tag, err := language.Parse(k)
		if err != nil {
			return nil, fmt.Errorf("parse catalog: locale %q: %w", k, err)
		}
		c.tags = append(c.tags, tag)
		c.messages = append(c.messages, raw[k])
	}
	c.matcher = language.NewMatcher(c.tags)
	return c, nil
}

// Msg returns the message for key in the closest locale, or def when the
// catalog has no such entry.
func (c *Catalog) Msg(locale, key, def string) string {
	if c == nil {
		return def
	}
	idx := 0
	if tag, err := language.Parse(locale); err == nil {
		_, idx, _ = c.matcher.Match(tag)
	}
	if v, ok := c.messages[idx][key]; ok && v != "" {
		return v
	}
	return def
}

// DisplayName renders a locale for prompts, e.g. "American English (en-US)".
// Unparseable input is returned unchanged.
func DisplayName(locale string) string {
	tag, err := language.Parse(locale)
	if err != nil {
		return locale
	}
	name := display.English.Tags().Name(tag)
	if name == "" {
		return tag.String()
	}
	return fmt.Sprintf("%s (%s)", name, tag.String())
}
