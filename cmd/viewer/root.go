package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	viewer "github.com/stardustai/webdav-viewer"
	"github.com/stardustai/webdav-viewer/cache"
	"github.com/stardustai/webdav-viewer/cache/disk"
	viewerhttp "github.com/stardustai/webdav-viewer/http"
	"github.com/stardustai/webdav-viewer/internal/config"
	"github.com/stardustai/webdav-viewer/internal/logger"
	"github.com/stardustai/webdav-viewer/storage"
	"github.com/stardustai/webdav-viewer/storage/backends"
)

const envPrefix = "VIEWER"

// app is the state shared by every subcommand of one root command.
type app struct {
	v        *viper.Viper
	out      io.Writer
	cfgFile  string
	headers  []string
	cfg      *config.Config
	logger   *slog.Logger
	manager  *storage.Manager
	analyzer *viewer.Analyzer
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out}

	root := &cobra.Command{
		Use:   "viewer",
		Short: "Inspect archives on local disk, WebDAV, S3 or HTTP",
		Long: "viewer lists the entries of ZIP, TAR, TAR.GZ and GZIP archives and " +
			"previews single entries using range reads, so large remote archives " +
			"are never downloaded whole.",
		Version:           version(),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.init() },
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.manager == nil {
				return nil
			}
			return a.manager.Disconnect(context.WithoutCancel(cmd.Context()))
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (yaml)")
	flags.String("log-format", config.LogFormatText, "logging format [text|json]")
	flags.String("log-level", "info", "logging level debug|info|warn|error")
	flags.StringP("output", "o", config.OutputTable, "output format [table|json|yaml]")
	flags.String("protocol", "local", "storage protocol [local|webdav|s3|oss]")
	flags.String("url", "", "backend root: a directory, WebDAV URL or S3 endpoint")
	flags.String("username", "", "backend username")
	flags.String("password", "", "backend password")
	flags.String("bucket", "", "S3 bucket")
	flags.String("region", "", "S3 region")
	flags.String("cache-dir", "", "persist fetched archive blocks in this directory")
	flags.StringSliceVarP(&a.headers, "header", "H", nil, "extra HTTP header for URL arguments (Key: Value)")

	for key, flag := range map[string]string{
		"log.format":          "log-format",
		"log.level":           "log-level",
		"output":              "output",
		"connection.protocol": "protocol",
		"connection.url":      "url",
		"connection.username": "username",
		"connection.password": "password",
		"connection.bucket":   "bucket",
		"connection.region":   "region",
		"cache.dir":           "cache-dir",
	} {
		if err := a.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	root.AddCommand(
		newLsCmd(a),
		newStatCmd(a),
		newAnalyzeCmd(a),
		newPreviewCmd(a),
		newFormatsCmd(a),
	)
	return root
}

func version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	var rev, at string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.time":
			at = s.Value
		}
	}
	return strings.TrimSpace(fmt.Sprintf("%s %s %s", info.Main.Version, rev, at))
}

func (a *app) init() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading from config file: %w", err)
		}
	}
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.logger, err = logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	blocks, err := a.blockCache()
	if err != nil {
		return err
	}
	a.manager = backends.NewManager(backends.WithLogger(a.logger))
	a.analyzer = viewer.New(
		viewer.WithLogger(a.logger),
		viewer.WithHTTPOptions(a.httpOptions()...),
		viewer.WithBlockCache(blocks),
	)
	return nil
}

// blockCache builds the in-memory block cache, backed by a disk store when
// cache.dir is set.
func (a *app) blockCache() (*cache.BlockCache, error) {
	opts := []cache.Option{cache.WithMaxBytes(int64(a.cfg.Cache.MemorySize))}
	if dir := a.cfg.Cache.Dir; dir != "" {
		store, err := disk.New(dir, disk.WithMaxBytes(int64(a.cfg.Cache.DiskSize)))
		if err != nil {
			return nil, fmt.Errorf("open cache dir: %w", err)
		}
		a.logger.Debug("disk block cache", slog.String("dir", dir), slog.Uint64("max", a.cfg.Cache.DiskSize))
		opts = append(opts, cache.WithStore(store))
	}
	return cache.New(opts...), nil
}

// client connects the configured backend and returns it.
func (a *app) client(ctx context.Context) (storage.Client, error) {
	if _, err := a.manager.Connect(ctx, &a.cfg.Connection); err != nil {
		return nil, err
	}
	return a.manager.Active()
}

// headerMap parses the repeated --header flag.
func (a *app) headerMap() (map[string]string, error) {
	if len(a.headers) == 0 {
		return nil, nil
	}
	m := make(map[string]string, len(a.headers))
	for _, h := range a.headers {
		k, v, ok := strings.Cut(h, ":")
		if !ok {
			k, v, ok = strings.Cut(h, "=")
		}
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid header %q: want Key: Value", h)
		}
		m[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return m, nil
}

// progress logs backend read progress at debug level.
func (a *app) progress(target string) storage.ProgressFunc {
	return func(current, total uint64) {
		a.logger.Debug("read progress", slog.String("target", target),
			slog.String("read", viewer.FormatFileSize(current)),
			slog.String("total", viewer.FormatFileSize(total)))
	}
}

// httpOptions applies the connection credentials to URL arguments.
func (a *app) httpOptions() []viewerhttp.Option {
	var opts []viewerhttp.Option
	if u, p := a.cfg.Connection.Username, a.cfg.Connection.Password; u != "" {
		opts = append(opts, viewerhttp.WithBasicAuth(u, p))
	}
	return opts
}
