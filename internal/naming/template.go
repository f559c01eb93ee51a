package naming

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// FallbackBase is used when a rendered file name sanitizes to nothing.
const FallbackBase = "file"

var (
	// FileVocabulary is the closed set of placeholders a naming template may use.
	FileVocabulary = []string{"filename", "title", "season", "episode", "chapter", "quality"}
	// CaptionVocabulary is the closed set of placeholders a caption template may use.
	CaptionVocabulary = []string{"file_name", "file_size", "duration", "original_name", "extension", "mime_type"}

	ErrUnbalanced   = errors.New("unbalanced braces")
	ErrUnknownField = errors.New("unknown placeholder")

	illegalRe = regexp.MustCompile(`[\\/:*?"<>|\n\r]+`)
)

type segment struct {
	text  string
	field bool
}

// parse splits a template into literal and placeholder segments. "{{" and
// "}}" are literal braces. strict controls whether a stray brace is an error.
func parse(tmpl string, strict bool) ([]segment, error) {
	var (
		segs []segment
		lit  strings.Builder
	)
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 || strings.IndexByte(tmpl[i+1:i+1+end], '{') >= 0 {
				if strict {
					return nil, fmt.Errorf("%w at offset %d", ErrUnbalanced, i)
				}
				lit.WriteByte(c)
				continue
			}
			if lit.Len() > 0 {
				segs = append(segs, segment{text: lit.String()})
				lit.Reset()
			}
			segs = append(segs, segment{text: strings.TrimSpace(tmpl[i+1 : i+1+end]), field: true})
			i += end + 1
		case c == '}':
			if strict {
				return nil, fmt.Errorf("%w at offset %d", ErrUnbalanced, i)
			}
			lit.WriteByte(c)
		default:
			lit.WriteByte(c)
		}
	}
	if lit.Len() > 0 {
		segs = append(segs, segment{text: lit.String()})
	}
	return segs, nil
}

// Substitute replaces {name} placeholders from vars. Absent keys become "".
func Substitute(tmpl string, vars Vars) string {
	segs, _ := parse(tmpl, false)
	var b strings.Builder
	for _, s := range segs {
		if s.field {
			b.WriteString(vars[s.text])
			continue
		}
		b.WriteString(s.text)
	}
	return b.String()
}

// Sanitize replaces runs of characters illegal in file names with a single
// space and trims the result.
func Sanitize(name string) string {
	return strings.TrimSpace(illegalRe.ReplaceAllString(name, " "))
}

// Render produces a file name from tmpl. ext includes the leading dot and is
// appended unless the name already ends with it.
func Render(tmpl string, vars Vars, ext string) string {
	core := Sanitize(Substitute(tmpl, vars))
	if core == "" {
		core = FallbackBase
	}
	if ext != "" && !strings.HasSuffix(strings.ToLower(core), strings.ToLower(ext)) {
		core += ext
	}
	return core
}

// RenderCaption substitutes a caption template without sanitizing. A blank
// result falls back to fallback (normally the rendered file name).
func RenderCaption(tmpl string, vars Vars, fallback string) string {
	out := Substitute(tmpl, vars)
	if strings.TrimSpace(out) == "" {
		return fallback
	}
	return out
}

// Placeholders lists the field names used by tmpl in order of appearance.
func Placeholders(tmpl string) ([]string, error) {
	segs, err := parse(tmpl, true)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, s := range segs {
		if s.field {
			names = append(names, s.text)
		}
	}
	return names, nil
}

// Validate checks that tmpl is well formed and only uses names from vocab.
func Validate(tmpl string, vocab []string) error {
	names, err := Placeholders(tmpl)
	if err != nil {
		return err
	}
	allowed := make(map[string]bool, len(vocab))
	for _, v := range vocab {
		allowed[v] = true
	}
	for _, n := range names {
		if !allowed[n] {
			return fmt.Errorf("%w {%s}", ErrUnknownField, n)
		}
	}
	return nil
}
