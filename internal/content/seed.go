package content

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// SeedDir imports every question file under root. Files are visited in
// lexical order; .yaml, .yml and .json files are imported and everything
// else is skipped. A file that fails to parse is logged and skipped so one
// bad file does not block the rest.
func SeedDir(ctx context.Context, root string, im *Importer) (Report, error) {
	info, err := os.Stat(root)
	if err != nil {
		return Report{}, fmt.Errorf("seed path: %w", err)
	}
	if !info.IsDir() {
		return Report{}, fmt.Errorf("seed path %s is not a directory", root)
	}

	total := Report{Errors: []string{}, Records: []RecordResult{}}
	files := 0
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		var format Format
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			format = FormatYAML
		case ".json":
			format = FormatJSON
		default:
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		report, err := im.Import(ctx, format, data)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("skipping invalid seed file", "path", path, "error", err)
			return nil
		}
		files++
		for _, e := range report.Errors {
			slog.Warn("seed record rejected", "path", path, "error", e)
		}
		total.merge(report)
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("seeding from %s: %w", root, err)
	}

	slog.Info("seed content loaded",
		"path", root,
		"files", files,
		"questions", total.Success,
		"rejected", total.Failed,
	)
	return total, nil
}
