// Command edgefn-dev runs a local development server for one JS/TS edge
// function: it bundles the entry file, serves it over HTTP inside a
// sandboxed V8 isolate, and hot-swaps the isolate whenever the entry file
// changes on disk.
package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/brinkrun/edgefn/internal/bundler"
	"github.com/brinkrun/edgefn/internal/core"
	"github.com/brinkrun/edgefn/internal/engine"
	"github.com/brinkrun/edgefn/internal/envfile"
	"github.com/brinkrun/edgefn/internal/httpfront"
	"github.com/brinkrun/edgefn/internal/termlog"
	"github.com/brinkrun/edgefn/internal/watcher"
)

var (
	flagClient              string
	flagPublicDir           string
	flagPort                int
	flagHostname            string
	flagEnv                 string
	flagAllowCodeGeneration bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "edgefn-dev",
	Short: "Run a local development server for an edge function",
	RunE:  runDev,
}

func init() {
	rootCmd.Flags().StringVar(&flagClient, "client", "", "path to the function's entry file (required)")
	rootCmd.Flags().StringVar(&flagPublicDir, "public-dir", "", "directory of static assets served alongside the function")
	rootCmd.Flags().IntVar(&flagPort, "port", 1234, "port to listen on")
	rootCmd.Flags().StringVar(&flagHostname, "hostname", "127.0.0.1", "hostname to bind to")
	rootCmd.Flags().StringVar(&flagEnv, "env", "", "path to a .env file of variables exposed as globalThis.env")
	rootCmd.Flags().BoolVar(&flagAllowCodeGeneration, "allow-code-generation", false, "permit eval() and new Function() inside the handler")
	rootCmd.MarkFlagRequired("client")
}

func runDev(cmd *cobra.Command, args []string) error {
	log := termlog.New()

	entryPath, err := filepath.Abs(flagClient)
	if err != nil {
		return fmt.Errorf("resolving entry path: %w", err)
	}

	publicDir := flagPublicDir
	if publicDir != "" {
		publicDir, err = filepath.Abs(publicDir)
		if err != nil {
			return fmt.Errorf("resolving public dir: %w", err)
		}
	}

	env, err := envfile.BuildEnv(flagEnv)
	if err != nil {
		return fmt.Errorf("loading env file: %w", err)
	}

	b := bundler.New(entryPath, publicDir)
	source, assets, err := b.Load()
	if err != nil {
		return fmt.Errorf("initial bundle failed: %w", err)
	}

	cfg := core.EngineConfig{
		MemoryLimitMB:       128,
		ExecutionTimeout:    1000,
		MaxFetchRequests:    50,
		FetchTimeoutSec:     30,
		MaxResponseBytes:    64 * 1024 * 1024,
		MaxScriptSizeKB:     0,
		AllowCodeGeneration: flagAllowCodeGeneration,
	}

	host, err := engine.NewHost(cfg, source, env)
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	defer host.Shutdown()

	front := httpfront.New(host, log)
	front.SetAssets(assets)

	w, err := watcher.New(entryPath)
	if err != nil {
		return fmt.Errorf("starting file watcher: %w", err)
	}
	defer w.Close()

	go func() {
		for range w.Changed {
			log.FileChanged(entryPath)

			newSource, newAssets, err := b.Load()
			if err != nil {
				log.ReloadFailed(err)
				continue
			}

			if err := host.Reload(newSource, env); err != nil {
				log.ReloadFailed(err)
				continue
			}

			front.SetAssets(newAssets)
		}
	}()

	addr := fmt.Sprintf("%s:%d", flagHostname, flagPort)
	if flagAllowCodeGeneration {
		log.CodeGenerationWarning()
	}
	log.Banner(addr)

	server := &http.Server{
		Addr:    addr,
		Handler: front,
	}
	return server.ListenAndServe()
}
