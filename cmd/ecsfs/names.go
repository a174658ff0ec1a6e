package main

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/soypat/ecsfs"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// volumeName derives a volume filename from a host path: accents are
// stripped, anything else outside printable ASCII becomes '_' and the result
// is cut to fit a directory record.
func volumeName(hostPath string) (string, error) {
	base := filepath.Base(hostPath)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, base)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, r := range stripped {
		if sb.Len() == ecsfs.FilenameLen-1 {
			break
		}
		if r < ' ' || r > '~' {
			r = '_'
		}
		sb.WriteRune(r)
	}
	return sb.String(), nil
}
