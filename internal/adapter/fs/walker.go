// Package fs walks a vault directory and reads the notes selected for
// indexing.
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"

	"vaultrag/internal/port"
)

type Walker struct {
	includes         []string
	excludes         []string
	respectGitignore bool
}

func NewWalker(includes, excludes []string, respectGitignore bool) *Walker {
	if len(includes) == 0 {
		includes = []string{"**/*"}
	}
	return &Walker{
		includes:         includes,
		excludes:         excludes,
		respectGitignore: respectGitignore,
	}
}

// Walk lists the files under root that match the include globs and no
// exclude glob, sorted by relative path. With respectGitignore set, the
// root's .gitignore is honored as well.
func (w *Walker) Walk(root string) ([]port.FileInfo, error) {
	var files []port.FileInfo

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var gitignore *ignore.GitIgnore
	if w.respectGitignore {
		gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
		switch {
		case err == nil:
			gitignore = gi
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read .gitignore: %w", err)
		}
	}

	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if info.IsDir() {
			if relPath == "." {
				return nil
			}
			if w.shouldExclude(relPath+"/") || (gitignore != nil && gitignore.MatchesPath(relPath+"/")) {
				return filepath.SkipDir
			}
			return nil
		}

		if !info.Mode().IsRegular() {
			return nil
		}
		if gitignore != nil && gitignore.MatchesPath(relPath) {
			return nil
		}

		if w.shouldInclude(relPath) && !w.shouldExclude(relPath) {
			files = append(files, port.FileInfo{
				Path:    path,
				RelPath: relPath,
				ModTime: info.ModTime().Unix(),
				Size:    info.Size(),
			})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

func (w *Walker) shouldInclude(path string) bool {
	for _, pattern := range w.includes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func (w *Walker) shouldExclude(path string) bool {
	for _, pattern := range w.excludes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

// ReadSources walks root and loads every selected file. Files that are not
// valid UTF-8 are skipped and returned in skipped.
func (w *Walker) ReadSources(ctx context.Context, root string) (sources []port.SourceFile, skipped []string, err error) {
	files, err := w.Walk(root)
	if err != nil {
		return nil, nil, err
	}

	sources = make([]port.SourceFile, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		content, err := ReadFile(f.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", f.RelPath, err)
		}
		if !utf8.ValidString(content) {
			skipped = append(skipped, f.RelPath)
			continue
		}
		sources = append(sources, port.SourceFile{Path: f.RelPath, Content: content})
	}
	return sources, skipped, nil
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
