// Package bundler turns a function's entry file and its public directory
// into a single self-contained JS module plus a static-asset manifest, on
// demand, re-run by the watcher on every source change.
package bundler

import (
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/brinkrun/edgefn/internal/core"
)

// Bundler bundles one entry file and indexes one public directory. Both are
// fixed for the lifetime of a dev server run; re-bundling is cheap enough
// that the watcher just calls Load again on every change.
type Bundler struct {
	entryPath string
	publicDir string
}

var _ core.SourceLoader = (*Bundler)(nil)

// New creates a Bundler for the given entry file and optional public
// (static asset) directory. publicDir may be empty.
func New(entryPath, publicDir string) *Bundler {
	return &Bundler{entryPath: entryPath, publicDir: publicDir}
}

// Load bundles the entry file and rebuilds the asset manifest. Called once
// at startup and again after every debounced watcher event.
func (b *Bundler) Load() (string, []core.AssetManifestEntry, error) {
	source, err := b.bundleEntry()
	if err != nil {
		return "", nil, err
	}

	assets, err := b.buildAssetManifest()
	if err != nil {
		return "", nil, err
	}

	return source, assets, nil
}

// bundleEntry bundles the entry file with esbuild into a single ES module,
// preserving named exports (so the `handler` export survives intact) — a
// plain script with no imports is returned unchanged to avoid the esbuild
// round trip.
func (b *Bundler) bundleEntry() (string, error) {
	source, err := os.ReadFile(b.entryPath)
	if err != nil {
		return "", fmt.Errorf("reading entry file: %w", err)
	}

	src := string(source)
	if !needsBundling(src) {
		return src, nil
	}

	result := esbuild.Build(esbuild.BuildOptions{
		EntryPoints:   []string{b.entryPath},
		AbsWorkingDir: filepath.Dir(b.entryPath),
		Bundle:        true,
		Format:        esbuild.FormatESModule,
		Write:         false,
		Platform:      esbuild.PlatformBrowser,
		Target:        esbuild.ES2022,
		TreeShaking:   esbuild.TreeShakingFalse,
	})

	if len(result.Errors) > 0 {
		var msgs []string
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return "", fmt.Errorf("bundling entry file: %s", strings.Join(msgs, "; "))
	}
	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("bundling produced no output")
	}

	return string(result.OutputFiles[0].Contents), nil
}

// needsBundling reports whether source contains import/require statements
// that require running it through esbuild at all.
func needsBundling(source string) bool {
	return strings.Contains(source, "import ") ||
		strings.Contains(source, "import{") ||
		strings.Contains(source, "import(") ||
		strings.Contains(source, "require(")
}

// buildAssetManifest walks publicDir and returns one entry per file, its
// URL path rooted at "/" and its content type guessed from its extension.
// Returns an empty manifest, not an error, when publicDir is unset.
func (b *Bundler) buildAssetManifest() ([]core.AssetManifestEntry, error) {
	if b.publicDir == "" {
		return nil, nil
	}

	var assets []core.AssetManifestEntry
	err := filepath.WalkDir(b.publicDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.publicDir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		urlPath := "/" + filepath.ToSlash(rel)
		contentType := mime.TypeByExtension(filepath.Ext(path))
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		assets = append(assets, core.AssetManifestEntry{
			Path:        urlPath,
			FilePath:    path,
			ContentType: contentType,
			Size:        info.Size(),
		})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("walking public dir: %w", err)
	}

	return assets, nil
}
