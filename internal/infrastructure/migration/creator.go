package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"
)

// Scaffold headers match the style of the committed migrations.
var (
	upTemplate = template.Must(template.New("up").Parse(`-- Migration: {{.Name}}
{{- if .Description}}
-- Description: {{.Description}}
{{- end}}

`))
	downTemplate = template.Must(template.New("down").Parse(`-- Migration: {{.Name}} (Rollback)

`))
)

// MigrationFile names a scaffolded up/down pair.
type MigrationFile struct {
	Version     string
	Name        string
	Description string
	UpPath      string
	DownPath    string
}

// CreateMigration scaffolds an empty up/down pair in migrationsDir. The
// version prefix is the creation time in YYYYMMDDHHMMSS form, so scaffolded
// files sort after the numbered bootstrap migrations.
func CreateMigration(migrationsDir, name, description string) (*MigrationFile, error) {
	if err := os.MkdirAll(migrationsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create migrations directory: %w", err)
	}

	mf := &MigrationFile{
		Version:     time.Now().Format("20060102150405"),
		Name:        sanitizeName(name),
		Description: description,
	}
	base := filepath.Join(migrationsDir, mf.Version+"_"+mf.Name)
	mf.UpPath = base + ".up.sql"
	mf.DownPath = base + ".down.sql"

	if err := renderTo(mf.UpPath, upTemplate, mf); err != nil {
		return nil, err
	}
	if err := renderTo(mf.DownPath, downTemplate, mf); err != nil {
		// Do not leave an up file without its rollback.
		_ = os.Remove(mf.UpPath)
		return nil, err
	}

	return mf, nil
}

func renderTo(path string, tmpl *template.Template, mf *MigrationFile) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, mf); err != nil {
		return fmt.Errorf("render %s: %w", path, err)
	}
	return nil
}

// sanitizeName lowercases name and collapses every run of characters
// outside [a-z0-9] into a single underscore.
func sanitizeName(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
	return strings.Join(fields, "_")
}

// ListMigrations returns the base names of the migration pairs in
// migrationsDir in version order. A missing directory is an empty list.
func ListMigrations(migrationsDir string) ([]string, error) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if base, ok := strings.CutSuffix(entry.Name(), ".up.sql"); ok {
			names = append(names, base)
		}
	}
	return names, nil
}
