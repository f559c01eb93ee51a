package settings

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/wapuda/autorename/internal/naming"
)

const (
	DefaultNameTemplate    = "{filename}"
	DefaultCaptionTemplate = "{file_name}"
	MaxNameTemplate        = 200
	MaxCaptionTemplate     = 1000
)

var (
	ErrEmptyTemplate      = errors.New("template is empty")
	ErrTemplateTooLong    = errors.New("template too long")
	ErrInvalidTemplate    = errors.New("invalid template")
	ErrInvalidDestination = errors.New("invalid destination chat id")
	ErrInvalidChoice      = errors.New("invalid choice")
	ErrUnknownTag         = errors.New("unknown metadata field")
)

type UploadKind string

const (
	UploadDocument UploadKind = "document"
	UploadVideo    UploadKind = "video"
)

// Source selects which text variables are extracted from.
type Source string

const (
	SourceFilename Source = "filename"
	SourceCaption  Source = "caption"
)

// Tags are the container metadata values written when tagging is enabled.
type Tags struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	Artist   string `json:"artist"`
	Audio    string `json:"audio"`
	Subtitle string `json:"subtitle"`
	Video    string `json:"video"`
}

func DefaultTags() Tags {
	return Tags{
		Title:    "Encoded by AutoRename",
		Author:   "AutoRename",
		Artist:   "AutoRename",
		Audio:    "AutoRename",
		Subtitle: "AutoRename",
		Video:    "Renamed with AutoRename",
	}
}

// ChatSettings is the per-chat configuration read by the pipeline.
type ChatSettings struct {
	NameTemplate    string     `json:"name_template"`
	CaptionTemplate string     `json:"caption_template"`
	UploadAs        UploadKind `json:"upload_as"`
	Source          Source     `json:"source"`
	TagsEnabled     bool       `json:"tags_enabled"`
	Tags            Tags       `json:"tags"`
	ThumbPath       string     `json:"thumb_path,omitempty"`
	DumpChat        int64      `json:"dump_chat,omitempty"`
}

func Default() ChatSettings {
	return ChatSettings{
		NameTemplate:    DefaultNameTemplate,
		CaptionTemplate: DefaultCaptionTemplate,
		UploadAs:        UploadDocument,
		Source:          SourceFilename,
		Tags:            DefaultTags(),
	}
}

// normalize fills zero fields left by older persisted records.
func (s *ChatSettings) normalize() {
	d := Default()
	if s.NameTemplate == "" {
		s.NameTemplate = d.NameTemplate
	}
	if s.CaptionTemplate == "" {
		s.CaptionTemplate = d.CaptionTemplate
	}
	if s.UploadAs == "" {
		s.UploadAs = d.UploadAs
	}
	if s.Source == "" {
		s.Source = d.Source
	}
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&s.Tags.Title, d.Tags.Title)
	fill(&s.Tags.Author, d.Tags.Author)
	fill(&s.Tags.Artist, d.Tags.Artist)
	fill(&s.Tags.Audio, d.Tags.Audio)
	fill(&s.Tags.Subtitle, d.Tags.Subtitle)
	fill(&s.Tags.Video, d.Tags.Video)
}

func checkTemplate(tmpl string, max int, vocab []string) (string, error) {
	tmpl = strings.TrimSpace(tmpl)
	if tmpl == "" {
		return "", ErrEmptyTemplate
	}
	if len([]rune(tmpl)) > max {
		return "", fmt.Errorf("%w (max %d chars)", ErrTemplateTooLong, max)
	}
	if err := naming.Validate(tmpl, vocab); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}
	return tmpl, nil
}

// ParseNameTemplate validates a naming template before it is stored.
func ParseNameTemplate(tmpl string) (string, error) {
	return checkTemplate(tmpl, MaxNameTemplate, naming.FileVocabulary)
}

// ParseCaptionTemplate validates a caption template before it is stored.
func ParseCaptionTemplate(tmpl string) (string, error) {
	return checkTemplate(tmpl, MaxCaptionTemplate, naming.CaptionVocabulary)
}

func ParseUploadKind(s string) (UploadKind, error) {
	switch k := UploadKind(strings.ToLower(strings.TrimSpace(s))); k {
	case UploadDocument, UploadVideo:
		return k, nil
	}
	return "", fmt.Errorf("%w %q: use video or document", ErrInvalidChoice, s)
}

func ParseSource(s string) (Source, error) {
	switch src := Source(strings.ToLower(strings.TrimSpace(s))); src {
	case SourceFilename, SourceCaption:
		return src, nil
	}
	return "", fmt.Errorf("%w %q: use filename or caption", ErrInvalidChoice, s)
}

// ParseDestination accepts a numeric Telegram chat id such as -1001234567890.
func ParseDestination(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w %q", ErrInvalidDestination, s)
	}
	return id, nil
}

// SetTag assigns one metadata field by its command name.
func (t *Tags) SetTag(field, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%w: value for %s is empty", ErrInvalidChoice, field)
	}
	switch strings.ToLower(field) {
	case "title":
		t.Title = value
	case "author":
		t.Author = value
	case "artist":
		t.Artist = value
	case "audio":
		t.Audio = value
	case "subtitle":
		t.Subtitle = value
	case "video":
		t.Video = value
	default:
		return fmt.Errorf("%w %q", ErrUnknownTag, field)
	}
	return nil
}
