package archive

import (
	"errors"
	"path"
	"regexp"
	"strings"
)

var (
	ErrIgnoredEntry    = errors.New("archive metadata entry")
	ErrUnsafePath      = errors.New("entry path escapes the archive root")
	ErrNoStudentFolder = errors.New("no student folder or file prefix in entry path")
)

// EntryLocation places one archive entry inside a student's submission.
type EntryLocation struct {
	StudentCode  string
	FolderName   string
	RelativePath string
	// Path is the normalized archive path, FolderName included.
	Path string
}

var drivePrefix = regexp.MustCompile(`^[A-Za-z]:`)

// DeriveStudentCode maps an archive entry path to the student it belongs to.
//
// The first path segment is the student folder, unless it carries no code
// while the second one does. Archives zipped from one level up, such as
// "Batch1/SE171234/Program.cs", are then read from the second segment. Files at the archive root use
// the file name prefix up to the first '_', '-', ' ' or '.'. The student code
// is the first match of pattern inside the folder (falling back to the file
// name for root files), upper-cased; without a match the upper-cased folder is
// used as is and naming validation flags it later. A nil pattern always uses
// the folder.
//
// Returned errors: ErrIgnoredEntry for empty paths and OS metadata,
// ErrUnsafePath for absolute or parent-relative paths, ErrNoStudentFolder when
// no folder or prefix can be found.
func DeriveStudentCode(entryPath string, pattern *regexp.Regexp) (EntryLocation, error) {
	clean, err := NormalizeEntryPath(entryPath)
	if err != nil {
		return EntryLocation{}, err
	}
	if clean == "" {
		return EntryLocation{}, ErrIgnoredEntry
	}

	segments := strings.Split(clean, "/")
	if isMetadata(segments) {
		return EntryLocation{}, ErrIgnoredEntry
	}

	if wrapped(segments, pattern) {
		segments = segments[1:]
	}

	var folder, rel, fallback string
	if len(segments) > 1 {
		folder = segments[0]
		rel = strings.Join(segments[1:], "/")
	} else {
		name := segments[0]
		folder = filePrefix(name)
		rel = name
		fallback = name
	}

	folder = strings.TrimSpace(folder)
	if folder == "" {
		return EntryLocation{}, ErrNoStudentFolder
	}

	return EntryLocation{
		StudentCode:  codeFor(folder, fallback, pattern),
		FolderName:   folder,
		RelativePath: rel,
		Path:         clean,
	}, nil
}

// NormalizeEntryPath converts separators to '/', drops "." segments and
// rejects absolute or parent-relative paths.
func NormalizeEntryPath(entryPath string) (string, error) {
	p := strings.ReplaceAll(strings.TrimSpace(entryPath), "\\", "/")
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "/") || drivePrefix.MatchString(p) {
		return "", ErrUnsafePath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", ErrUnsafePath
		}
	}

	clean := path.Clean(p)
	if clean == "." {
		return "", nil
	}
	return clean, nil
}

// wrapped reports whether the first segment is a wrapper folder around the
// student folders.
func wrapped(segments []string, pattern *regexp.Regexp) bool {
	if pattern == nil || len(segments) < 3 {
		return false
	}
	return !pattern.MatchString(segments[0]) && pattern.MatchString(segments[1])
}

func isMetadata(segments []string) bool {
	if segments[0] == "__MACOSX" {
		return true
	}
	last := segments[len(segments)-1]
	switch last {
	case ".DS_Store", "Thumbs.db", "desktop.ini":
		return true
	}
	return strings.HasPrefix(last, "._")
}

func filePrefix(name string) string {
	if i := strings.IndexAny(name, "_- ."); i >= 0 {
		return name[:i]
	}
	return name
}

func codeFor(folder, fallback string, pattern *regexp.Regexp) string {
	if pattern != nil {
		if m := pattern.FindString(folder); m != "" {
			return strings.ToUpper(m)
		}
		if fallback != "" {
			if m := pattern.FindString(fallback); m != "" {
				return strings.ToUpper(m)
			}
		}
	}
	return strings.ToUpper(folder)
}
