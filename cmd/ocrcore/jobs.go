package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/tesseract-ocr/tesseract-sub021/internal/dictionary"
	"github.com/tesseract-ocr/tesseract-sub021/internal/processor"
	"github.com/tesseract-ocr/tesseract-sub021/internal/queue"
	"github.com/tesseract-ocr/tesseract-sub021/internal/storage"
)

// queueOptions locate the worker queue
type queueOptions struct {
	redisURL string
	queue    string
	inline   bool
}

func (q *queueOptions) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&q.redisURL, "redis", envOr("REDIS_URL", "redis://localhost:6379"), "Redis URL")
	cmd.PersistentFlags().StringVar(&q.queue, "queue", envOr("QUEUE_NAME", "ocrcore"), "queue name")
	cmd.PersistentFlags().BoolVar(&q.inline, "inline", false, "embed file contents in the job instead of sending paths")
}

// source turns a CLI argument into a job input. URLs pass through; paths
// are made absolute for the worker, or read when inline is set.
func (q *queueOptions) source(arg string) (processor.Source, error) {
	if isURL(arg) {
		return processor.Source{URL: arg}, nil
	}
	if q.inline {
		data, err := os.ReadFile(arg)
		if err != nil {
			return processor.Source{}, err
		}
		return processor.Source{Buffer: data}, nil
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		return processor.Source{}, err
	}
	return processor.Source{Path: abs}, nil
}

func isURL(s string) bool {
	return len(s) > 8 && (s[:7] == "http://" || s[:8] == "https://")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newSubmitCmd(opts *options) *cobra.Command {
	q := &queueOptions{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue jobs for the worker",
	}
	q.register(cmd)

	recognize := &cobra.Command{
		Use:   "recognize <page.json> <image>",
		Short: "Queue a recognition job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pageSrc, err := q.source(args[0])
			if err != nil {
				return err
			}
			imageSrc, err := q.source(args[1])
			if err != nil {
				return err
			}
			req := &processor.ProcessRequest{Page: pageSrc, Image: imageSrc}
			if cmd.Flags().Changed("lang") {
				req.Languages = opts.languages
			}
			task, err := queue.NewRecognizeTask(req)
			if err != nil {
				return err
			}
			return enqueue(cmd, q, req.JobID, task)
		},
	}

	var (
		boxPage  int
		language string
		targets  map[string]int
	)
	resegment := &cobra.Command{
		Use:   "resegment <page.json> <boxfile>",
		Short: "Queue a resegmentation job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pageSrc, err := q.source(args[0])
			if err != nil {
				return err
			}
			boxSrc, err := q.source(args[1])
			if err != nil {
				return err
			}
			req := &processor.TrainingRequest{
				Page:     pageSrc,
				Boxes:    boxSrc,
				BoxPage:  boxPage,
				Language: language,
				Targets:  targets,
			}
			task, err := queue.NewResegmentTask(req)
			if err != nil {
				return err
			}
			return enqueue(cmd, q, req.JobID, task)
		},
	}
	resegment.Flags().IntVar(&boxPage, "page", -1, "box file page to apply; -1 applies all")
	resegment.Flags().StringVar(&language, "language", "", "charset language; default is the worker's primary language")
	resegment.Flags().StringToIntVar(&targets, "target", nil, "wanted samples per label")

	cmd.AddCommand(recognize, resegment)
	return cmd
}

func enqueue(cmd *cobra.Command, q *queueOptions, jobID string, task *asynq.Task) error {
	producer, err := queue.NewProducer(q.redisURL, q.queue)
	if err != nil {
		return err
	}
	defer producer.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	info, err := producer.Enqueue(ctx, jobID, task)
	if err != nil {
		return err
	}
	okColor.Fprintf(cmd.ErrOrStderr(), "queued %s job %s on %s\n", task.Type(), info.ID, info.Queue)
	fmt.Fprintln(cmd.OutOrStdout(), jobID)
	return nil
}

func newDictCmd() *cobra.Command {
	var (
		redisURL string
		prefix   string
		replace  bool
	)
	cmd := &cobra.Command{
		Use:   "dict",
		Short: "Manage word lists in Redis",
	}
	cmd.PersistentFlags().StringVar(&redisURL, "redis", envOr("REDIS_URL", "redis://localhost:6379"), "Redis URL")
	cmd.PersistentFlags().StringVar(&prefix, "prefix", "", "key prefix")

	load := &cobra.Command{
		Use:   "load <lang> <wordlist>",
		Short: "Load a word list file into Redis",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := dictionary.LoadFile(args[1])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			store, err := dictionary.NewRedisStore(ctx, &dictionary.RedisConfig{RedisURL: redisURL, KeyPrefix: prefix})
			if err != nil {
				return err
			}
			defer store.Close()

			added, err := store.Store(ctx, args[0], list, replace)
			if err != nil {
				return err
			}
			okColor.Fprintf(cmd.ErrOrStderr(), "%s: %d words, %d new members\n", args[0], list.Len(), added)
			return nil
		},
	}
	load.Flags().BoolVar(&replace, "replace", false, "drop the existing lists first")

	dump := &cobra.Command{
		Use:   "dump <lang>",
		Short: "Write a language's Redis word list to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			store, err := dictionary.NewRedisStore(ctx, &dictionary.RedisConfig{RedisURL: redisURL, KeyPrefix: prefix})
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := store.Load(ctx, args[0])
			if err != nil {
				return err
			}
			return dictionary.Write(cmd.OutOrStdout(), list)
		},
	}

	cmd.AddCommand(load, dump)
	return cmd
}

func newJobCmd() *cobra.Command {
	var databaseURL string
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect worker results in PostgreSQL",
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database", envOr("DATABASE_URL", "postgres://localhost:5432/ocrcore?sslmode=disable"), "PostgreSQL URL")

	status := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print a job's status and metadata as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := storage.NewPostgresClient(databaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			job, err := db.GetJobByID(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, job)
		},
	}

	classes := &cobra.Command{
		Use:   "classes",
		Short: "Print stored training samples per label",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := storage.NewPostgresClient(databaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			counts, err := db.ClassCounts(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, counts)
		},
	}

	cmd.AddCommand(status, classes)
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
