package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/parlorlabs/exhibit/client"
	"github.com/parlorlabs/exhibit/config"
	"github.com/parlorlabs/exhibit/gallery"
)

var (
	logger     *slog.Logger
	configPath string
	isAI       bool
	source     string
	verbose    bool

	successColor = color.New(color.FgGreen)
	failureColor = color.New(color.FgRed, color.Bold)
)

func init() {
	flag.StringVar(&configPath, "config", "exhibit.yaml", "Path to the exhibit configuration file")
	flag.BoolVar(&isAI, "ai", false, "Mark an uploaded image as AI-generated")
	flag.StringVar(&source, "source", "", "Free-text attribution for an uploaded image")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: exhibit [flags] <command> [args]

commands:
  manifest                 list manifest entries
  upload <file>            upload an image and record it in the manifest
  add-remote <url>         record an externally hosted image in the manifest
  remove <id>              remove a manifest entry (and its blob, best-effort)
  get <key>                fetch a raw object to stdout
  put <key> <file>         store a raw object under an explicit key
  delete <key>             delete a raw object
  id                       mint a new image id

flags:
`)
	flag.PrintDefaults()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, config.ErrConfigFileUnreadable) {
		// no file: fall back to the environment
		if envCfg, envErr := config.FromEnv(); envErr == nil {
			return envCfg, nil
		}
	}
	return nil, err
}

func buildStore(cfg *config.Config) (*gallery.Store, *client.Client, error) {
	c, err := client.NewClient(&client.Config{
		AccessKeyID:     cfg.ObjectStore.AccessKeyID,
		SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
		AccountID:       cfg.ObjectStore.AccountID,
		Bucket:          cfg.ObjectStore.Bucket,
		PublicBaseURL:   cfg.ObjectStore.PublicBaseURL,
		Endpoint:        cfg.ObjectStore.Endpoint,
		Timeout:         cfg.ObjectStore.Timeout,
		RateLimit:       cfg.RateLimiter.Limit,
		RateBurst:       cfg.RateLimiter.Burst,
		Logger:          logger,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create object store client")
	}

	var opts []gallery.Option
	if cfg.Gallery.Prefix != "" {
		opts = append(opts, gallery.WithPrefix(cfg.Gallery.Prefix))
	}
	if cfg.Gallery.CacheTTL > 0 {
		opts = append(opts, gallery.WithCacheTTL(cfg.Gallery.CacheTTL))
	}
	return gallery.NewStore(c, logger, opts...), c, nil
}

func main() {
	flag.Usage = usage
	flag.Parse()

	level := charmlog.InfoLevel
	if verbose {
		level = charmlog.DebugLevel
	}
	logger = slog.New(charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Level:           level,
		ReportTimestamp: true,
	}))

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	if args[0] == "id" {
		fmt.Println(gallery.NewImageID())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		failureColor.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	store, objects, err := buildStore(cfg)
	if err != nil {
		failureColor.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, store, objects, args); err != nil {
		failureColor.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, store *gallery.Store, objects *client.Client, args []string) error {
	switch cmd := args[0]; cmd {
	case "manifest":
		return cmdManifest(ctx, store)
	case "upload":
		if len(args) != 2 {
			return errors.New("usage: exhibit upload <file>")
		}
		return cmdUpload(ctx, store, args[1])
	case "add-remote":
		if len(args) != 2 {
			return errors.New("usage: exhibit add-remote <url>")
		}
		return cmdAddRemote(ctx, store, args[1])
	case "remove":
		if len(args) != 2 {
			return errors.New("usage: exhibit remove <id>")
		}
		return cmdRemove(ctx, store, args[1])
	case "get":
		if len(args) != 2 {
			return errors.New("usage: exhibit get <key>")
		}
		return cmdGet(ctx, objects, args[1])
	case "put":
		if len(args) != 3 {
			return errors.New("usage: exhibit put <key> <file>")
		}
		return cmdPut(ctx, objects, args[1], args[2])
	case "delete":
		if len(args) != 2 {
			return errors.New("usage: exhibit delete <key>")
		}
		return cmdDelete(ctx, objects, args[1])
	default:
		return errors.Errorf("unknown command '%s'", cmd)
	}
}

func cmdManifest(ctx context.Context, store *gallery.Store) error {
	m, err := store.FetchManifestStrict(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to fetch manifest")
	}

	if len(m.Images) == 0 {
		fmt.Println("manifest is empty")
		return nil
	}

	for _, img := range m.Images {
		label := "human"
		if img.IsAI {
			label = "ai"
		}
		fmt.Printf("%s  %-5s  %s  %s\n", img.ID, label, img.CreatedAt, img.URL)
	}
	fmt.Printf("%d entries, updated %s\n", len(m.Images), m.UpdatedAt)
	return nil
}

func cmdUpload(ctx context.Context, store *gallery.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read '%s'", path)
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	img, err := store.AddImage(ctx, data, filepath.Base(path), contentType, isAI, source)
	if err != nil {
		return errors.Wrap(err, "upload failed")
	}

	successColor.Printf("uploaded %s\n", img.ID)
	fmt.Println(img.URL)
	return nil
}

func cmdAddRemote(ctx context.Context, store *gallery.Store, url string) error {
	img, err := store.AddRemoteImage(ctx, url, isAI, source)
	if err != nil {
		return errors.Wrap(err, "failed to record remote image")
	}
	successColor.Printf("recorded %s\n", img.ID)
	return nil
}

func cmdRemove(ctx context.Context, store *gallery.Store, id string) error {
	if err := store.RemoveImage(ctx, id); err != nil {
		return errors.Wrapf(err, "failed to remove '%s'", id)
	}
	successColor.Printf("removed %s\n", id)
	return nil
}

func cmdGet(ctx context.Context, objects *client.Client, key string) error {
	data, err := objects.GetObject(ctx, key)
	if err != nil {
		return errors.Wrapf(err, "failed to get '%s'", key)
	}
	_, err = os.Stdout.Write(data)
	return err
}

func cmdPut(ctx context.Context, objects *client.Client, key, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read '%s'", path)
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if err := objects.PutObject(ctx, key, data, contentType); err != nil {
		return errors.Wrapf(err, "failed to put '%s'", key)
	}
	successColor.Printf("stored %s\n", objects.ObjectURL(key))
	return nil
}

func cmdDelete(ctx context.Context, objects *client.Client, key string) error {
	if err := objects.DeleteObject(ctx, key); err != nil {
		return errors.Wrapf(err, "failed to delete '%s'", key)
	}
	successColor.Printf("deleted %s\n", key)
	return nil
}
