package vcl

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Extension is the recognized VCL source file extension
const Extension = ".vcl"

// IsVCLFile returns true if the file has the VCL extension
func IsVCLFile(path string) bool {
	return filepath.Ext(path) == Extension
}

// LogicalName returns the remote name for a local VCL file, which is the
// base filename with the extension stripped ("vcl/main.vcl" -> "main")
func LogicalName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), Extension)
}

// LoadDir reads every VCL file under dir and returns a mapping from logical
// name to file content. Hidden files and directories are skipped. Two files
// resolving to the same logical name (e.g. "a/main.vcl" and "b/main.vcl")
// are an error because the remote namespace is flat.
func LoadDir(dir string) (map[string]string, error) {
	files := make(map[string]string)
	sources := make(map[string]string) // logical name -> source path

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Skip hidden files and directories (.git etc.)
		if strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.IsDir() {
			return nil
		}

		if !IsVCLFile(path) {
			return nil
		}

		name := LogicalName(path)
		if prev, dup := sources[name]; dup {
			return fmt.Errorf("duplicate VCL name %q: %s and %s", name, prev, path)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		sources[name] = path
		files[name] = string(content)
		return nil
	})

	if err != nil {
		return nil, err
	}

	return files, nil
}
