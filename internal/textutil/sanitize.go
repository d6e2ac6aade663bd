package textutil

import (
	"strings"
	"unicode"
)

// maxTokenLen bounds the recording-name part of export file names.
const maxTokenLen = 64

// SanitizeToken folds a recording name into a lowercase token safe to use in
// a file name. ASCII letters, digits, '-' and '_' are kept; every other run of
// characters collapses into a single '_'. Empty results become "unknown".
func SanitizeToken(value string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(value) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		pendingSep = true
	}
	out := b.String()
	if len(out) > maxTokenLen {
		out = out[:maxTokenLen]
	}
	if out = strings.Trim(out, "_-"); out == "" {
		return "unknown"
	}
	return out
}

// ShortID returns the first n characters of id, or id itself when shorter.
func ShortID(id string, n int) string {
	if n <= 0 || len(id) <= n {
		return id
	}
	return id[:n]
}

// ArtifactBaseName builds the extension-less export name for an artifact:
// the recording token followed by short recording and parameter hashes, so
// parameter sets of one recording never collide.
func ArtifactBaseName(recordingName, recordingID, paramsHash string) string {
	return SanitizeToken(recordingName) + "-" + ShortID(recordingID, 8) + "-" + ShortID(paramsHash, 8)
}
