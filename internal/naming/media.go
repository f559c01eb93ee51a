package naming

import (
	"path/filepath"
	"strings"

	"github.com/wapuda/autorename/internal/jobs"
)

var videoExts = map[string]bool{".mp4": true, ".mkv": true, ".avi": true, ".mov": true, ".wmv": true}

// IsVideoExt reports whether ext (with dot) is uploadable as a Telegram video.
func IsVideoExt(ext string) bool {
	return videoExts[strings.ToLower(ext)]
}

// Extension returns the original file's extension, or one implied by kind.
func Extension(fileName string, kind jobs.MediaKind) string {
	if ext := filepath.Ext(fileName); ext != "" && ext != fileName {
		return ext
	}
	switch kind {
	case jobs.KindVideo, jobs.KindAnimation:
		return ".mp4"
	case jobs.KindAudio:
		return ".mp3"
	case jobs.KindVoice:
		return ".ogg"
	}
	return ".bin"
}

// Stem returns the original base name without extension, or FallbackBase.
func Stem(fileName string) string {
	if fileName == "" {
		return FallbackBase
	}
	base := filepath.Base(fileName)
	if stem := strings.TrimSuffix(base, filepath.Ext(base)); stem != "" {
		return stem
	}
	return base
}
