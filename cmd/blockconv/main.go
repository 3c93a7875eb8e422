// Command blockconv converts documents between block snapshot JSON and
// text formats (markdown, html, plain text).
//
// One-shot:
//
//	blockconv -in doc.md -out doc.json
//	blockconv -from snapshot -to markdown -in doc.json
//
// Watch mode converts files in a directory as they change:
//
//	blockconv -watch -to markdown -in ./snapshots -out ./docs
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"

	"github.com/suyash5053/AFFiNE/internal/adapter"
	"github.com/suyash5053/AFFiNE/internal/adapter/html"
	"github.com/suyash5053/AFFiNE/internal/adapter/markdown"
	"github.com/suyash5053/AFFiNE/internal/adapter/plaintext"
	"github.com/suyash5053/AFFiNE/internal/config"
	"github.com/suyash5053/AFFiNE/internal/domain"
	"github.com/suyash5053/AFFiNE/internal/schema"
	"github.com/suyash5053/AFFiNE/internal/snapshot"
)

// formatSnapshot is the CLI-side pseudo format for snapshot JSON files.
const formatSnapshot = "snapshot"

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	inPath := flag.String("in", "", "input file, or directory in watch mode")
	outPath := flag.String("out", "", "output file (stdout when empty), or directory in watch mode")
	from := flag.String("from", "", "input format: snapshot, markdown, plaintext, html (inferred from extension when empty)")
	to := flag.String("to", "", "output format (inferred from -out extension when empty)")
	assetsDir := flag.String("assets", "", "assets directory (overrides ASSETS_DIR)")
	baseURL := flag.String("base-url", "", "base URL for doc links (overrides DOC_LINK_BASE_URL)")
	watch := flag.Bool("watch", false, "watch the input directory and convert files as they change")
	logDir := flag.String("log-dir", "", "also write logs to timestamped files in this directory")
	flag.Parse()

	cfg := config.Load()
	if *assetsDir != "" {
		cfg.AssetsDir = *assetsDir
	}
	if *baseURL != "" {
		cfg.DocLinkBaseURL = *baseURL
	}

	logW := io.Writer(os.Stderr)
	if *logDir != "" {
		f, err := config.SetupLogFile(*logDir, 5)
		if err != nil {
			log.Fatalf("Failed to set up log file: %v", err)
		}
		defer f.Close()
		logW = io.MultiWriter(os.Stderr, f)
	}
	logger := config.NewLogger(cfg, logW)
	slog.SetDefault(logger)

	if *inPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	reg := adapter.NewRegistry()
	reg.Register(markdown.New())
	reg.Register(plaintext.New())
	reg.Register(html.New())

	job, err := buildJob(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to set up conversion job: %v", err)
	}

	logger.Info("blockconv starting",
		"environment", cfg.Environment,
		"formats", reg.Names(),
		"assets_dir", cfg.AssetsDir,
	)

	ctx := context.Background()
	if *watch {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := watchDir(ctx, reg, job, cfg, *inPath, *outPath, *to); err != nil {
			log.Fatalf("Watch failed: %v", err)
		}
		return
	}

	if err := convertFile(ctx, reg, job, cfg, *inPath, *outPath, *from, *to); err != nil {
		log.Fatalf("Conversion failed: %v", err)
	}
}

// buildJob wires schema, assets and the middleware chain from config.
func buildJob(cfg *config.Config, logger *slog.Logger) (*snapshot.Job, error) {
	var mws []snapshot.Middleware
	if cfg.DocLinkBaseURL != "" {
		mws = append(mws, snapshot.DocLinkBaseURL(cfg.DocLinkBaseURL))
	}
	if cfg.WorkspaceID != "" {
		mws = append(mws, snapshot.WorkspaceID(cfg.WorkspaceID))
	}
	if cfg.Frontmatter {
		mws = append(mws, snapshot.FrontmatterMeta())
	}
	if cfg.SyncedDocDepth > 0 {
		mws = append(mws, snapshot.SyncedDocDepth(cfg.SyncedDocDepth))
	}

	job := snapshot.NewJob(schema.Builtin(), logger, mws...)
	if cfg.AssetsDir != "" {
		assets, err := snapshot.NewDirAssets(cfg.AssetsDir)
		if err != nil {
			return nil, err
		}
		job.Assets = assets
	}
	return job, nil
}

// convertFile reads inPath, converts it and writes outPath (stdout when
// empty). From and to override extension-based format inference.
func convertFile(ctx context.Context, reg *adapter.Registry, job *snapshot.Job, cfg *config.Config, inPath, outPath, from, to string) error {
	data, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", inPath, err)
	}
	if cfg.MaxImportBytes > 0 && int64(len(data)) > cfg.MaxImportBytes {
		return fmt.Errorf("%w: %s is %d bytes, limit is %d", domain.ErrValidation, inPath, len(data), cfg.MaxImportBytes)
	}

	fromName, err := resolveFormat(reg, from, inPath)
	if err != nil {
		return err
	}
	toName, err := resolveFormat(reg, to, outPath)
	if err != nil {
		return err
	}
	if fromName == toName {
		return fmt.Errorf("%w: input and output format are both %q", domain.ErrValidation, fromName)
	}

	snap, err := importDoc(ctx, reg, job, fromName, data)
	if err != nil {
		return fmt.Errorf("importing %s: %w", inPath, err)
	}
	out, err := exportDoc(ctx, reg, job, toName, snap)
	if err != nil {
		return fmt.Errorf("exporting as %s: %w", toName, err)
	}

	if outPath == "" {
		if _, err := os.Stdout.WriteString(out); err != nil {
			return err
		}
	} else if err := os.WriteFile(outPath, []byte(out), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}

	attrs := []any{
		"in", inPath,
		"out", outPath,
		"from", fromName,
		"to", toName,
		"title", snap.Meta.Title,
	}
	if toName != formatSnapshot {
		attrs = append(attrs, "words", plaintext.CountWords(out))
	}
	job.Log().Info("converted", attrs...)
	return nil
}

func importDoc(ctx context.Context, reg *adapter.Registry, job *snapshot.Job, format string, data []byte) (*snapshot.DocSnapshot, error) {
	if format == formatSnapshot {
		return snapshot.ParseDoc(data)
	}
	a, ok := reg.Get(format)
	if !ok {
		return nil, fmt.Errorf("%w: unknown format %q", domain.ErrValidation, format)
	}
	return a.ToDocSnapshot(ctx, string(data), job)
}

func exportDoc(ctx context.Context, reg *adapter.Registry, job *snapshot.Job, format string, snap *snapshot.DocSnapshot) (string, error) {
	if format == formatSnapshot {
		raw, err := snap.Marshal()
		if err != nil {
			return "", err
		}
		return string(raw) + "\n", nil
	}
	a, ok := reg.Get(format)
	if !ok {
		return "", fmt.Errorf("%w: unknown format %q", domain.ErrValidation, format)
	}
	return a.FromDocSnapshot(ctx, snap, job)
}

// resolveFormat picks a format from the explicit name, falling back to
// the path's extension.
func resolveFormat(reg *adapter.Registry, name, path string) (string, error) {
	if name != "" {
		if name == formatSnapshot {
			return name, nil
		}
		if _, ok := reg.Get(name); ok {
			return name, nil
		}
		return "", fmt.Errorf("%w: unknown format %q", domain.ErrValidation, name)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		return formatSnapshot, nil
	}
	if a, ok := reg.ForFile(path); ok {
		return a.Name(), nil
	}
	return "", fmt.Errorf("%w: cannot infer format for %q, pass -from/-to", domain.ErrValidation, path)
}

// outExtension is the extension watch mode writes for a target format.
func outExtension(reg *adapter.Registry, format string) string {
	if format == formatSnapshot {
		return ".json"
	}
	if a, ok := reg.Get(format); ok {
		if exts := a.Extensions(); len(exts) > 0 {
			return exts[0]
		}
	}
	return ".txt"
}

// watchDir converts every supported file written under inDir into
// outDir, until the context is canceled.
func watchDir(ctx context.Context, reg *adapter.Registry, job *snapshot.Job, cfg *config.Config, inDir, outDir, to string) error {
	if to == "" {
		return fmt.Errorf("%w: watch mode requires -to", domain.ErrValidation)
	}
	if outDir == "" {
		return fmt.Errorf("%w: watch mode requires -out directory", domain.ErrValidation)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the tree recursively; fsnotify is per-directory.
	err = filepath.Walk(inDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watching %s: %w", inDir, err)
	}

	log := job.Log()
	log.Info("watching for changes", "dir", inDir, "out", outDir, "to", to)

	ext := outExtension(reg, to)
	for {
		select {
		case <-ctx.Done():
			log.Info("watch stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Write != fsnotify.Write && event.Op&fsnotify.Create != fsnotify.Create {
				continue
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				// New subdirectories join the watch.
				if err := watcher.Add(event.Name); err != nil {
					log.Warn("watching new directory failed", "dir", event.Name, "error", err)
				}
				continue
			}
			if _, err := resolveFormat(reg, "", event.Name); err != nil {
				continue
			}

			base := strings.TrimSuffix(filepath.Base(event.Name), filepath.Ext(event.Name))
			outPath := filepath.Join(outDir, base+ext)
			if err := convertFile(ctx, reg, job, cfg, event.Name, outPath, "", to); err != nil {
				log.Error("conversion failed", "file", event.Name, "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("watcher error", "error", err)
		}
	}
}
