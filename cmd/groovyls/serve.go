package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/spf13/cobra"

	"github.com/saibing/groovyls/internal/compile"
	"github.com/saibing/groovyls/internal/compiler/fake"
	"github.com/saibing/groovyls/internal/config"
	"github.com/saibing/groovyls/internal/contents"
	"github.com/saibing/groovyls/internal/exec"
	"github.com/saibing/groovyls/internal/handler"
	"github.com/saibing/groovyls/internal/logging"
	"github.com/saibing/groovyls/internal/resolve"
	resolvefake "github.com/saibing/groovyls/internal/resolve/fake"
	"github.com/saibing/groovyls/internal/scope"
	"github.com/saibing/groovyls/internal/watch"
)

var (
	mode                    string
	addr                    string
	trace                   bool
	logfile                 string
	maxParallelism          int
	compilationPermits      int64
	classpathCache          bool
	cacheDir                string
	backfillSiblings        bool
	scopeEvictionTTL        time.Duration
	memoryPressureThreshold float64
	logLevel                string
	enabledImporters        []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the language server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	flags := serveCmd.Flags()
	flags.StringVar(&mode, "mode", "stdio", "communication mode (stdio|tcp)")
	flags.StringVar(&addr, "addr", ":4389", "server listen address (tcp mode)")
	flags.BoolVar(&trace, "trace", false, "log every jsonrpc2 request/response")
	flags.StringVar(&logfile, "logfile", "", "also log to this file, in addition to stderr")
	flags.IntVar(&maxParallelism, "max-parallelism", 4, "goroutines per named executor pool")
	flags.Int64Var(&compilationPermits, "compilation-permits", 1, "max concurrent compiles across all scopes")
	flags.BoolVar(&classpathCache, "classpath-cache", true, "enable the on-disk classpath cache")
	flags.StringVar(&cacheDir, "cache-dir", "", "directory for the on-disk classpath cache (defaults to the user cache dir)")
	flags.BoolVar(&backfillSiblings, "backfill-siblings", false, "recorded in the server config only; sibling backfill follows the importer's batching support")
	flags.DurationVar(&scopeEvictionTTL, "scope-eviction-ttl", 30*time.Minute, "idle duration before a scope is evicted")
	flags.Float64Var(&memoryPressureThreshold, "memory-pressure-threshold", 0.85, "heap fraction above which idle scopes are evicted early")
	flags.StringVar(&logLevel, "log-level", "INFO", "ERROR|WARN|INFO|DEBUG|TRACE")
	flags.StringSliceVar(&enabledImporters, "importer", []string{"gradle", "maven"}, "build-tool importer names to register")
}

func runServe() error {
	var logW io.Writer = os.Stderr
	if logfile != "" {
		f, err := os.Create(logfile)
		if err != nil {
			return err
		}
		defer f.Close()
		logW = io.MultiWriter(os.Stderr, f)
	}
	logging.SetOutput(logW)
	logging.SetLevel(logLevel)

	cfg := config.NewDefaultConfig()
	cfg.LogLevel = logLevel
	cfg.ClasspathCache = classpathCache
	cfg.BackfillSiblingProjects = backfillSiblings
	cfg.ScopeEvictionTTL = scopeEvictionTTL
	cfg.MemoryPressureThreshold = memoryPressureThreshold
	cfg.EnabledImporters = enabledImporters

	mgr := scope.NewManager()
	tracker := contents.New()
	pools := exec.NewPools(maxParallelism, compilationPermits)

	compilerBackend := fake.New()

	importers := map[string]resolve.Importer{}
	for _, name := range enabledImporters {
		importers[name] = resolvefake.New(name, resolve.NewImporterLogger(name))
	}
	defaultImporter := "gradle"
	if len(enabledImporters) > 0 {
		defaultImporter = enabledImporters[0]
	}

	var cache *resolve.Cache
	if classpathCache {
		dir := cacheDir
		if dir == "" {
			userCache, err := os.UserCacheDir()
			if err == nil {
				dir = filepath.Join(userCache, "groovyls")
			}
		}
		if dir != "" {
			cache = resolve.NewCache(dir, workspaceRootGuess())
		}
	}

	srv := handler.New(mgr, tracker, nil, nil, nil, pools, handler.ImporterRegistry{ByName: importers, Default: defaultImporter}, handler.NoopProviders{}, cfg)

	svc := compile.New(compilerBackend, tracker, pools, srv)
	coord := resolve.New(mgr, importers, pools, cache, classpathCache, srv, tracker, svc, cleanStaleClassFiles)
	wh := watch.New(mgr, tracker, svc, pools, func(root string) (resolve.Importer, bool) {
		im, ok := importers[defaultImporter]
		return im, ok
	}, cleanStaleClassFiles, moveLogger{})

	srv.Compiler = svc
	srv.Coordinator = coord
	srv.Watch = wh
	srv.CleanStale = cleanStaleClassFiles

	fsWatcher, err := watch.NewWatcher(wh)
	if err != nil {
		logging.Root.Warn("fsnotify watcher unavailable, relying on client-driven didChangeWatchedFiles only", "err", err)
	} else {
		defer fsWatcher.Close()
		srv.FSWatcher = fsWatcher
	}

	evictionCtx, cancelEviction := context.WithCancel(context.Background())
	defer cancelEviction()
	mgr.StartEvictionSweeper(evictionCtx, time.Minute, scopeEvictionTTL, memoryPressureThreshold, heapStats, func(root string) bool {
		return len(tracker.OpenURIsUnder(root)) > 0
	})

	memTicker := time.NewTicker(time.Minute)
	defer memTicker.Stop()
	go func() {
		for range memTicker.C {
			srv.ReportMemoryUsage()
		}
	}()

	rpcHandler := handler.NewHandler(srv)

	var connOpt []jsonrpc2.ConnOpt
	if trace {
		connOpt = append(connOpt, jsonrpc2.LogMessages(stdLogger{}))
	}

	switch mode {
	case "tcp":
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		defer lis.Close()
		logging.Root.Info("listening", "addr", addr)
		for {
			conn, err := lis.Accept()
			if err != nil {
				return err
			}
			jsonrpc2.NewConn(context.Background(), jsonrpc2.NewBufferedStream(conn, jsonrpc2.VSCodeObjectCodec{}), rpcHandler, connOpt...)
		}

	case "stdio":
		logging.Root.Info("reading on stdin, writing on stdout")
		<-jsonrpc2.NewConn(context.Background(), jsonrpc2.NewBufferedStream(stdrwc{}, jsonrpc2.VSCodeObjectCodec{}), rpcHandler, connOpt...).DisconnectNotify()
		logging.Root.Info("connection closed")
		return nil

	default:
		return fmt.Errorf("invalid mode %q", mode)
	}
}

// workspaceRootGuess gives the classpath cache a stable key before
// initialize reports the real root; refined once the client connects
// would require re-keying the cache, which spec.md's open question on
// cache-key fingerprinting explicitly says not to attempt silently. We
// key by the process's working directory instead, matching how most
// editors launch this server with cwd already set to the workspace root.
func workspaceRootGuess() string {
	wd, err := os.Getwd()
	if err != nil {
		return "default"
	}
	return wd
}

func heapStats() (used, max uint64) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return mem.HeapAlloc, mem.Sys
}

// cleanStaleClassFiles removes compiled output under root/build or
// root/target whose corresponding source file under root no longer
// exists, per spec.md §4.3's "stale class files would be resolved by the
// classloader in preference to source."
func cleanStaleClassFiles(root string) {
	for _, outDir := range []string{"build/classes", "target/classes"} {
		base := filepath.Join(root, outDir)
		_ = filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
			if err != nil || info == nil || info.IsDir() {
				return nil
			}
			if !strings.HasSuffix(path, ".class") {
				return nil
			}
			rel, relErr := filepath.Rel(base, path)
			if relErr != nil {
				return nil
			}
			// strip any $Inner suffix before the extension.
			rel = strings.Split(rel, "$")[0]
			srcRel := strings.TrimSuffix(rel, filepath.Ext(rel)) + ".groovy"
			if _, statErr := os.Stat(filepath.Join(root, "src", srcRel)); os.IsNotExist(statErr) {
				_ = os.Remove(path)
			}
			return nil
		})
	}
}

type moveLogger struct{}

func (moveLogger) OnClassMoved(projectRoot, oldFQCN, newFQCN string) {
	logging.ForProject(projectRoot).Info("class moved", "from", oldFQCN, "to", newFQCN)
}

type stdLogger struct{}

func (stdLogger) Printf(format string, v ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", v...)
}

type stdrwc struct{}

func (stdrwc) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdrwc) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdrwc) Close() error {
	if err := os.Stdin.Close(); err != nil {
		return err
	}
	return os.Stdout.Close()
}
