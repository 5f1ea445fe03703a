package archive

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

var testPattern = regexp.MustCompile(`(?i)[A-Z]{2}\d{6}`)

func TestDeriveStudentCode(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		code   string
		folder string
		rel    string
	}{
		{"folder with code", "SE171234/Program.cs", "SE171234", "SE171234", "Program.cs"},
		{"folder with decoration", "Nguyen_Van_A_se171234/src/Main.java", "SE171234", "Nguyen_Van_A_se171234", "src/Main.java"},
		{"backslashes", `HE150001\Controllers\HomeController.cs`, "HE150001", "HE150001", "Controllers/HomeController.cs"},
		{"leading dot segment", "./SE171234/a.cs", "SE171234", "SE171234", "a.cs"},
		{"root file prefix", "SE171234_lab1.cs", "SE171234", "SE171234", "SE171234_lab1.cs"},
		{"root file without separator", "Program.cs", "PROGRAM", "Program", "Program.cs"},
		{"folder without code", "john/Program.cs", "JOHN", "john", "Program.cs"},
		{"wrapper folder", "Batch1/SE123456/Program.cs", "SE123456", "SE123456", "Program.cs"},
		{"wrapper folder nested file", "Batch1/se123456/src/Main.cs", "SE123456", "se123456", "src/Main.cs"},
		{"folder without code above plain dir", "john/src/Program.cs", "JOHN", "john", "src/Program.cs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := DeriveStudentCode(tt.path, testPattern)
			require.NoError(t, err)
			require.Equal(t, tt.code, loc.StudentCode)
			require.Equal(t, tt.folder, loc.FolderName)
			require.Equal(t, tt.rel, loc.RelativePath)
		})
	}
}

func TestDeriveStudentCodeRejects(t *testing.T) {
	tests := []struct {
		name string
		path string
		err  error
	}{
		{"empty", "", ErrIgnoredEntry},
		{"macos resource fork dir", "__MACOSX/SE171234/._a.cs", ErrIgnoredEntry},
		{"ds store", "SE171234/.DS_Store", ErrIgnoredEntry},
		{"thumbs", "SE171234/img/Thumbs.db", ErrIgnoredEntry},
		{"parent escape", "../etc/passwd", ErrUnsafePath},
		{"inner escape", "SE171234/../../x.cs", ErrUnsafePath},
		{"absolute", "/etc/passwd", ErrUnsafePath},
		{"drive letter", `C:\Users\x.cs`, ErrUnsafePath},
		{"no prefix", "_foo.cs", ErrNoStudentFolder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeriveStudentCode(tt.path, testPattern)
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDeriveStudentCodeWrapperKeepsFullPath(t *testing.T) {
	loc, err := DeriveStudentCode(`Batch1\SE123456\Program.cs`, testPattern)
	require.NoError(t, err)
	require.Equal(t, "Batch1/SE123456/Program.cs", loc.Path)

	loc, err = DeriveStudentCode("Batch1/SE123456/Program.cs", nil)
	require.NoError(t, err)
	require.Equal(t, "BATCH1", loc.StudentCode)
}

func TestDeriveStudentCodeNilPattern(t *testing.T) {
	loc, err := DeriveStudentCode("se171234 /a.cs", nil)
	require.NoError(t, err)
	require.Equal(t, "SE171234", loc.StudentCode)
}
