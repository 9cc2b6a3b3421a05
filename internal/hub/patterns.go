package hub

import (
	"path"
	"strings"
)

// FilterFiles keeps files matching any allow pattern (all files when allow is
// empty) and none of the ignore patterns. Patterns match either the full
// repository path or its base name.
func FilterFiles(files, allow, ignore []string) []string {
	if len(allow) == 0 && len(ignore) == 0 {
		return files
	}
	var out []string
	for _, f := range files {
		if matchesAny(f, ignore) {
			continue
		}
		if len(allow) == 0 || matchesAny(f, allow) {
			out = append(out, f)
		}
	}
	return out
}

func matchesAny(file string, patterns []string) bool {
	base := path.Base(file)
	for _, p := range patterns {
		if ok, err := path.Match(p, file); err == nil && ok {
			return true
		}
		if strings.Contains(p, "/") {
			continue
		}
		if ok, err := path.Match(p, base); err == nil && ok {
			return true
		}
	}
	return false
}

// PreferSafetensors drops *.bin weights from any directory that also ships
// *.safetensors weights.
func PreferSafetensors(files []string) []string {
	hasST := map[string]bool{}
	for _, f := range files {
		if strings.HasSuffix(f, ".safetensors") {
			hasST[path.Dir(f)] = true
		}
	}
	out := files[:0:0]
	for _, f := range files {
		if strings.HasSuffix(f, ".bin") && hasST[path.Dir(f)] {
			continue
		}
		out = append(out, f)
	}
	return out
}
