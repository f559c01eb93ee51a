package pipeline

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/wapuda/autorename/internal/jobs"
	"github.com/wapuda/autorename/internal/naming"
	"github.com/wapuda/autorename/internal/progress"
	"github.com/wapuda/autorename/internal/settings"
)

// Variables builds the file-name VariableSet for it according to the chat's
// extraction source.
func Variables(it jobs.WorkItem, cs settings.ChatSettings) naming.Vars {
	base := naming.Vars{"filename": naming.Stem(it.FileName)}
	text := it.FileName
	if cs.Source == settings.SourceCaption && strings.TrimSpace(it.Caption) != "" {
		text = it.Caption
	}
	return naming.Merge(base, naming.Extract(text))
}

// captionVars describes the uploaded artifact at path.
func captionVars(it jobs.WorkItem, path string) naming.Vars {
	name := filepath.Base(path)
	ext := filepath.Ext(name)

	size := "Unknown"
	if it.Size > 0 {
		size = progress.HumanSize(float64(it.Size))
	} else if fi, err := os.Stat(path); err == nil {
		size = progress.HumanSize(float64(fi.Size()))
	}

	duration := "N/A"
	if (it.Kind == jobs.KindVideo || it.Kind == jobs.KindAudio) && it.Duration > 0 {
		duration = progress.Clock(it.Duration)
	}

	mime := it.MimeType
	if mime == "" {
		mime = "Unknown"
	}
	return naming.Vars{
		"file_name":     strings.TrimSuffix(name, ext),
		"file_size":     size,
		"duration":      duration,
		"original_name": naming.Stem(it.FileName),
		"extension":     strings.TrimPrefix(ext, "."),
		"mime_type":     mime,
	}
}

// Caption renders the chat's caption template for the artifact at path,
// falling back to the file name when the result is blank.
func Caption(it jobs.WorkItem, cs settings.ChatSettings, path string) string {
	return naming.RenderCaption(cs.CaptionTemplate, captionVars(it, path), filepath.Base(path))
}
