package naming

import (
	"regexp"
	"strings"
)

// Vars maps placeholder names to values. Missing keys render as "".
type Vars map[string]string

var (
	seasonRe  = regexp.MustCompile(`[Ss](?:eason\s*)?(\d+)`)
	episodeRe = regexp.MustCompile(`[Ee](?:pisode\s*)?(\d+)`)
	qualityRe = regexp.MustCompile(`\[?(\d+[pP])\]?`)
	chapterRe = regexp.MustCompile(`[Cc](?:hapter\s*|h\s*)(\d+)`)
	extRe     = regexp.MustCompile(`\.[A-Za-z0-9]{1,5}$`)
)

// Extract pulls title, season, episode, chapter and quality out of a free-text
// name such as "One Piece S01E12 [1080p] [Dual].mkv".
//
// This is heuristic. Each pattern takes its first match only, so inputs like
// "Bus9 S01" report season 9 and a title containing a bracket is cut short.
func Extract(text string) Vars {
	out := Vars{}
	name := strings.TrimSpace(extRe.ReplaceAllString(strings.TrimSpace(text), ""))
	if name == "" {
		return out
	}

	cut := len(name)
	if m := seasonRe.FindStringSubmatchIndex(name); m != nil {
		out["season"] = name[m[2]:m[3]]
		cut = m[0]
	}
	if m := episodeRe.FindStringSubmatch(name); m != nil {
		out["episode"] = m[1]
	}
	if m := qualityRe.FindStringSubmatch(name); m != nil {
		out["quality"] = strings.ToLower(m[1])
	}
	if m := chapterRe.FindStringSubmatch(name); m != nil {
		out["chapter"] = m[1]
	}
	if i := strings.IndexByte(name, '['); i >= 0 && i < cut {
		cut = i
	}
	if title := strings.TrimRight(name[:cut], " \t-_."); title != "" {
		out["title"] = title
	}
	return out
}

// Merge returns a copy of base overlaid with extra.
func Merge(base Vars, extra Vars) Vars {
	out := make(Vars, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
