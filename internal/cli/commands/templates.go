package commands

import (
	"embed"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

//go:embed all:templates
var templateFS embed.FS

// templateGroups orders the file groups printed by init.
var templateGroups = []string{"config", "models", "macros", "audits", "metrics"}

// copyTemplate copies an embedded template directory to targetDir. Existing
// files are kept unless force is set.
func copyTemplate(templateName, targetDir string, force bool) error {
	root := path.Join("templates", templateName)

	return fs.WalkDir(templateFS, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(p, root), "/")
		if rel == "" {
			return nil
		}

		targetPath := filepath.Join(targetDir, filepath.FromSlash(renameSpecialFiles(rel)))
		if d.IsDir() {
			return os.MkdirAll(targetPath, 0o750)
		}
		if !force {
			if _, err := os.Stat(targetPath); err == nil {
				return nil
			}
		}

		content, err := templateFS.ReadFile(p)
		if err != nil {
			return err
		}
		return os.WriteFile(targetPath, content, 0o600)
	})
}

// renameSpecialFiles maps embedded names to dotfiles.
func renameSpecialFiles(p string) string {
	dir, base := path.Split(p)
	if base == "gitignore" {
		return dir + ".gitignore"
	}
	return p
}

// listTemplateFiles returns the slash-separated paths a template creates.
func listTemplateFiles(templateName string) ([]string, error) {
	var files []string
	root := path.Join("templates", templateName)

	err := fs.WalkDir(templateFS, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel := strings.TrimPrefix(strings.TrimPrefix(p, root), "/")
			files = append(files, renameSpecialFiles(rel))
		}
		return nil
	})
	return files, err
}

// groupTemplateFiles groups files by their top-level directory.
func groupTemplateFiles(files []string) map[string][]string {
	groups := make(map[string][]string, len(templateGroups))
	for _, f := range files {
		dir, _, found := strings.Cut(f, "/")
		if !found {
			dir = "config"
		}
		groups[dir] = append(groups[dir], f)
	}
	return groups
}
