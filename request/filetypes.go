package request

import (
	"path"
	"strings"
)

// releasableSuffixes is the allow-list of file types that may be added
// to a release request. Everything an analysis job can legitimately
// publish is here; binaries, archives, and databases stay inside the
// enclave.
var releasableSuffixes = map[string]bool{
	".csv":  true,
	".tsv":  true,
	".dta":  true,
	".txt":  true,
	".log":  true,
	".json": true,
	".md":   true,
	".html": true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".svg":  true,
	".pdf":  true,
	".xlsx": true,
	".docx": true,
}

// IsValidFileType reports whether the path names a file that may be
// added to a release request. Dotfiles are never releasable.
func IsValidFileType(relpath string) bool {
	name := path.Base(relpath)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return releasableSuffixes[strings.ToLower(path.Ext(name))]
}

func suffixOf(relpath string) string {
	ext := path.Ext(path.Base(relpath))
	if ext == "" {
		return "(none)"
	}
	return ext
}
