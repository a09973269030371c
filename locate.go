package chonky

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Locate returns every manifest named DefaultManifestName below root, in
// lexical order. Directories starting with "." or "__" are not entered.
func Locate(fsys afero.Fs, root string) ([]string, error) {
	var found []string
	err := afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			if errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			name := info.Name()
			if path != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "__")) {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Name() == DefaultManifestName && info.Mode().IsRegular() {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}
