package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/registry-ingest/internal/model"
	"github.com/sells-group/registry-ingest/internal/pipeline"
)

var (
	ingestTrigger string
	ingestWatch   bool
)

// settleDelay is how long a dropped file must stay quiet before it is read,
// so partially copied files are not picked up mid-write.
const settleDelay = time.Second

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Ingest registry documents from a file or directory",
	Long:  "Processes a single document file, every file in a directory as one run, or watches a drop directory for new files. Defaults to the configured inbox directory.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		trigger, err := parseTrigger(ingestTrigger)
		if err != nil {
			return err
		}

		path := cfg.Ingest.Dir
		if len(args) == 1 {
			path = args[0]
		}

		env, err := initEnv(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		if ingestWatch {
			return watchLoop(ctx, env, path)
		}

		info, err := os.Stat(path)
		if err != nil {
			return eris.Wrapf(err, "stat %s", path)
		}

		if info.IsDir() {
			return ingestDir(ctx, env, trigger, path)
		}
		return ingestFile(ctx, env, trigger, path)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestTrigger, "trigger", "manual", "run trigger kind (manual, scheduler)")
	ingestCmd.Flags().BoolVar(&ingestWatch, "watch", false, "watch the directory and ingest files as they are dropped")
	rootCmd.AddCommand(ingestCmd)
}

func parseTrigger(s string) (model.TriggerKind, error) {
	switch model.TriggerKind(s) {
	case model.TriggerManual, model.TriggerScheduler, model.TriggerFileDrop:
		return model.TriggerKind(s), nil
	default:
		return "", eris.Errorf("unknown trigger %q", s)
	}
}

// readRawDocument loads one file as a raw document. The file name is the
// source ref so re-ingesting the same drop converges on the same document id.
func readRawDocument(path string) (model.RawDocument, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return model.RawDocument{}, eris.Wrapf(err, "read %s", path)
	}
	receivedAt := time.Now().UTC()
	if info, err := os.Stat(path); err == nil {
		receivedAt = info.ModTime().UTC()
	}
	return model.RawDocument{
		SourceRef:  filepath.Base(path),
		Payload:    payload,
		FormatHint: filepath.Ext(path),
		ReceivedAt: receivedAt,
	}, nil
}

// collectDocuments reads every regular file in dir, sorted by name.
func collectDocuments(dir string) ([]model.RawDocument, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "read dir %s", dir)
	}
	var docs []model.RawDocument
	for _, entry := range entries {
		if entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		doc, err := readRawDocument(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func ingestFile(ctx context.Context, env *ingestEnv, trigger model.TriggerKind, path string) error {
	raw, err := readRawDocument(path)
	if err != nil {
		return err
	}

	run, out, err := env.Pipeline.RunOne(ctx, trigger, raw)
	if err != nil {
		return eris.Wrapf(err, "ingest %s", path)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Run     *model.IngestionRun `json:"run"`
		Outcome *pipeline.Outcome   `json:"outcome"`
	}{run, out})
}

func ingestDir(ctx context.Context, env *ingestEnv, trigger model.TriggerKind, dir string) error {
	docs, err := collectDocuments(dir)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		zap.L().Warn("no documents found", zap.String("dir", dir))
	}

	run, err := env.Pipeline.RunBatch(ctx, trigger, dir, docs, batchConfig())
	if err != nil {
		return eris.Wrapf(err, "ingest dir %s", dir)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}

// watchLoop ingests files as they are dropped into dir. Each file becomes
// its own file_drop run once it has settled. Blocks until ctx is cancelled.
func watchLoop(ctx context.Context, env *ingestEnv, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "create watcher")
	}
	defer watcher.Close() //nolint:errcheck
	if err := watcher.Add(dir); err != nil {
		return eris.Wrapf(err, "watch %s", dir)
	}

	log := zap.L().With(zap.String("dir", dir))
	log.Info("watching for dropped files")

	ready := make(chan string)
	var mu sync.Mutex
	timers := make(map[string]*time.Timer)

	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[path]; ok {
			t.Reset(settleDelay)
			return
		}
		timers[path] = time.AfterFunc(settleDelay, func() {
			mu.Lock()
			delete(timers, path)
			mu.Unlock()
			select {
			case ready <- path:
			case <-ctx.Done():
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("watch stopped")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if info, err := os.Stat(event.Name); err != nil || info.IsDir() {
				continue
			}
			if filepath.Base(event.Name)[0] == '.' {
				continue
			}
			schedule(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher error", zap.Error(err))
		case path := <-ready:
			raw, err := readRawDocument(path)
			if err != nil {
				log.Error("read dropped file failed", zap.String("file", path), zap.Error(err))
				continue
			}
			run, out, err := env.Pipeline.RunOne(ctx, model.TriggerFileDrop, raw)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				log.Error("ingest dropped file failed", zap.String("file", path), zap.Error(err))
				continue
			}
			log.Info("dropped file ingested",
				zap.String("file", filepath.Base(path)),
				zap.String("run_id", run.ID),
				zap.String("status", string(run.Status)),
				zap.Bool("quarantined", out.Quarantined),
			)
		}
	}
}
