package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		filename string
		expected string
	}{
		{"package.nupkg", "zip"},
		{"package.snupkg", "zip"},
		{"package.zip", "zip"},
		{"Package.1.0.0.NUPKG", "zip"},
		{"package.tar.gz", ""},
		{"unknown.txt", ""},
		{"noext", ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got := detectFormat(tt.filename)
			if got != tt.expected {
				t.Errorf("detectFormat(%q) = %q, want %q", tt.filename, got, tt.expected)
			}
		})
	}
}

func TestNormalizeDir(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"/", ""},
		{"dir", "dir/"},
		{"dir/", "dir/"},
		{"/dir/", "dir/"},
		{"  dir  ", "dir/"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := normalizeDir(tt.input)
			if got != tt.expected {
				t.Errorf("normalizeDir(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestIsInDir(t *testing.T) {
	tests := []struct {
		filePath string
		dirPath  string
		expected bool
	}{
		{"file.txt", "", true},
		{"dir/file.txt", "", false},
		{"dir/file.txt", "dir", true},
		{"dir/subdir/file.txt", "dir", false},
		{"dir/subdir/file.txt", "dir/subdir", true},
		{"other/file.txt", "dir", false},
		{"dir/", "", true},
		{"dir/", "dir", false},
	}

	for _, tt := range tests {
		t.Run(tt.filePath+"_in_"+tt.dirPath, func(t *testing.T) {
			got := isInDir(tt.filePath, tt.dirPath)
			if got != tt.expected {
				t.Errorf("isInDir(%q, %q) = %v, want %v", tt.filePath, tt.dirPath, got, tt.expected)
			}
		})
	}
}

func TestExtractName(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"file.txt", "file.txt"},
		{"lib/net8.0/Foo.dll", "Foo.dll"},
		{"lib/", "lib"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := extractName(tt.path)
			if got != tt.expected {
				t.Errorf("extractName(%q) = %q, want %q", tt.path, got, tt.expected)
			}
		})
	}
}

// createTestNupkg creates a nupkg-shaped zip archive in memory.
func createTestNupkg(t *testing.T) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	files := []struct {
		name    string
		content string
	}{
		{"Foo.nuspec", "<package/>"},
		{"[Content_Types].xml", "<Types/>"},
		{"_rels/.rels", "<Relationships/>"},
		{"lib/net8.0/Foo.dll", "MZ"},
		{"lib/net8.0/Foo.xml", "<doc/>"},
		{"lib/netstandard2.0/Foo.dll", "MZ"},
		{"README.md", "# Foo"},
	}

	for _, file := range files {
		f, err := w.Create(file.name)
		if err != nil {
			t.Fatalf("creating %s: %v", file.name, err)
		}
		if _, err := f.Write([]byte(file.content)); err != nil {
			t.Fatalf("writing %s: %v", file.name, err)
		}
	}

	if err := w.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return buf.Bytes()
}

func TestZipReader(t *testing.T) {
	reader, err := OpenBytes(createTestNupkg(t))
	if err != nil {
		t.Fatalf("OpenBytes failed: %v", err)
	}
	defer func() { _ = reader.Close() }()

	files, err := reader.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(files) != 7 {
		t.Errorf("List returned %d files, want 7", len(files))
	}

	content, err := ReadFile(reader, "README.md")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(content) != "# Foo" {
		t.Errorf("ReadFile content = %q, want %q", content, "# Foo")
	}

	_, err = reader.Extract("nonexistent.txt")
	if !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Extract non-existent file error = %v, want ErrFileNotFound", err)
	}
}

func TestOpen(t *testing.T) {
	data := createTestNupkg(t)

	reader, err := Open("Foo.1.0.0.nupkg", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Open nupkg failed: %v", err)
	}
	_ = reader.Close()

	if _, err := Open("test.unknown", bytes.NewReader(data)); err == nil {
		t.Error("Open with unsupported format should fail")
	}

	if _, err := Open("broken.nupkg", bytes.NewReader([]byte("not a zip"))); err == nil {
		t.Error("Open with corrupt content should fail")
	}
}

func TestOpenReadError(t *testing.T) {
	_, err := Open("x.nupkg", io.MultiReader(bytes.NewReader([]byte("PK")), errReader{}))
	if err == nil {
		t.Fatal("expected read error")
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestZipListDir(t *testing.T) {
	reader, err := OpenBytes(createTestNupkg(t))
	if err != nil {
		t.Fatalf("OpenBytes failed: %v", err)
	}
	defer func() { _ = reader.Close() }()

	libFiles, err := reader.ListDir("lib")
	if err != nil {
		t.Fatalf("ListDir lib failed: %v", err)
	}
	if len(libFiles) != 2 {
		t.Fatalf("ListDir lib returned %d items, want 2", len(libFiles))
	}
	for _, f := range libFiles {
		if !f.IsDir {
			t.Errorf("expected %s to be a directory", f.Path)
		}
	}

	tfm, err := reader.ListDir("lib/net8.0")
	if err != nil {
		t.Fatalf("ListDir lib/net8.0 failed: %v", err)
	}
	if len(tfm) != 2 {
		t.Errorf("ListDir lib/net8.0 returned %d items, want 2", len(tfm))
	}
}

func TestIsPackagingPart(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"[Content_Types].xml", true},
		{"_rels/.rels", true},
		{"package/services/metadata/core-properties/abc.psmdcp", true},
		{"lib/net8.0/_rels/Foo.dll.rels", true},
		{"Foo.nuspec", false},
		{"lib/net8.0/Foo.dll", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := IsPackagingPart(tt.path); got != tt.want {
				t.Errorf("IsPackagingPart(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestZipPartNames(t *testing.T) {
	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	for _, name := range []string{"lib/net8.0/My%20Lib.dll", `content\readme.txt`, "bad%zzname.txt"} {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("creating %s: %v", name, err)
		}
		_, _ = f.Write([]byte(name))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}

	reader, err := OpenBytes(buf.Bytes())
	if err != nil {
		t.Fatalf("OpenBytes failed: %v", err)
	}
	defer func() { _ = reader.Close() }()

	tests := []struct {
		path string
		want string
	}{
		{"lib/net8.0/My Lib.dll", "lib/net8.0/My%20Lib.dll"},
		{"content/readme.txt", `content\readme.txt`},
		{"bad%zzname.txt", "bad%zzname.txt"},
	}
	for _, tt := range tests {
		content, err := ReadFile(reader, tt.path)
		if err != nil {
			t.Errorf("ReadFile(%q) failed: %v", tt.path, err)
			continue
		}
		if string(content) != tt.want {
			t.Errorf("ReadFile(%q) = %q, want %q", tt.path, content, tt.want)
		}
	}

	root, err := reader.ListDir("")
	if err != nil {
		t.Fatalf("ListDir failed: %v", err)
	}
	var names []string
	for _, f := range root {
		names = append(names, f.Path)
	}
	if len(root) != 3 {
		t.Errorf("root entries = %v, want lib/, content/ and bad%%zzname.txt", names)
	}
}
