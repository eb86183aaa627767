package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Datalake is the directory tools read and write files in.
type Datalake struct {
	Dir string
}

// Path resolves name inside the datalake, creating the directory when needed.
// Absolute paths are used as given.
func (d Datalake) Path(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("empty file name")
	}
	if filepath.IsAbs(name) {
		return name, nil
	}
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%s is outside the datalake", name)
	}
	if d.Dir == "" {
		return "", errors.New("BASE_DIRECTORY is not set")
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create datalake: %w", err)
	}
	return filepath.Join(d.Dir, name), nil
}

func withExt(path, ext string) string {
	if strings.EqualFold(filepath.Ext(path), ext) {
		return path
	}
	return path + ext
}

func (d Datalake) ListTool() Tool {
	return Tool{
		Name:        "list_directory",
		Description: "List all files and directories in the DataLake directory",
		Schema:      Schema{},
		Handler: func(context.Context, map[string]any) (string, error) {
			return d.list(), nil
		},
	}
}

// list reports problems in its result so the model can explain them.
func (d Datalake) list() string {
	if d.Dir == "" {
		return "Error: BASE_DIRECTORY environment variable is not set"
	}

	entries, err := os.ReadDir(d.Dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Sprintf("Error: Directory %s does not exist", d.Dir)
	case err != nil:
		return fmt.Sprintf("Error listing directory: %v", err)
	case len(entries) == 0:
		return "Directory is empty"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Contents of directory (%s):", d.Dir)
	for _, e := range entries {
		kind := "File"
		if e.IsDir() {
			kind = "Directory"
		}
		fmt.Fprintf(&b, "\n%s: %s", kind, e.Name())
	}
	return b.String()
}
