package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/atlas/internal/queue"
	"github.com/OFFIS-RIT/atlas/internal/storage"
	"github.com/OFFIS-RIT/atlas/internal/util"
	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/etl"
	"github.com/OFFIS-RIT/atlas/pkg/ingest"
	"github.com/OFFIS-RIT/atlas/pkg/source"
)

// backends is what the commands need from the process platform.
type backends interface {
	Lake() (storage.Lake, error)
	Directory() (source.DirectorySource, error)
	People() (source.PeopleSource, error)
	Projector() (*etl.Projector, error)
	Publisher() (queue.Publisher, error)
}

type cli struct {
	b      backends
	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(b backends, stdout, stderr io.Writer) *cobra.Command {
	c := &cli{b: b, stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "atlas",
		Short:         "Ingest company data into the lake and project it into the graph and vector stores",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(
		c.ingestCmd(),
		c.etlCmd(),
		c.lakeLsCmd(),
		c.etlAllCmd(),
		c.schemaCmd(),
	)
	return root
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// project runs or enqueues the ETL of prefix.
func (c *cli) project(ctx context.Context, prefix string, opts etl.Options, enqueue bool) error {
	if enqueue {
		pub, err := c.b.Publisher()
		if err != nil {
			return err
		}
		if err := queue.PublishETL(ctx, pub, queue.ETLJob{Prefix: prefix, Graph: opts.Graph, Vectors: opts.Vectors}); err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "enqueued %s\n", prefix)
		return nil
	}

	projector, err := c.b.Projector()
	if err != nil {
		return err
	}
	res, err := projector.Run(ctx, prefix, opts)
	if err != nil {
		return err
	}
	c.warnPartial(res)
	return c.printJSON(res)
}

func (c *cli) warnPartial(res *etl.Result) {
	if res.Partial() {
		fmt.Fprintf(c.stderr, "warning: %s: vectors not projected: %v\n", res.Prefix, res.VectorErr)
	}
}

func (c *cli) ingestCmd() *cobra.Command {
	var (
		limit   int
		enrich  bool
		load    bool
		vectors bool
		enqueue bool
	)
	cmd := &cobra.Command{
		Use:   "ingest <query>",
		Short: "Search the directory source and write one batch to the lake",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			lake, err := c.b.Lake()
			if err != nil {
				return err
			}
			directory, err := c.b.Directory()
			if err != nil {
				return err
			}
			var people source.PeopleSource
			if enrich {
				if people, err = c.b.People(); err != nil {
					return err
				}
			}
			ing, err := ingest.NewIngestor(ingest.NewIngestorParams{
				Lake:      lake,
				Directory: directory,
				People:    people,
				Workers:   int(util.GetEnvNumeric("INGEST_WORKERS", ingest.DefaultWorkers)),
			})
			if err != nil {
				return err
			}

			res, err := ing.Run(ctx, strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			if err := c.printJSON(res); err != nil {
				return err
			}
			if !load && !enqueue {
				return nil
			}
			return c.project(ctx, res.Prefix, etl.Options{Graph: true, Vectors: vectors}, enqueue)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of companies")
	cmd.Flags().BoolVar(&enrich, "enrich", false, "look up people for every company")
	cmd.Flags().BoolVar(&load, "load", false, "project the batch into the graph afterwards")
	cmd.Flags().BoolVar(&vectors, "vectors", false, "also project embeddings when loading")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "hand the projection to the ETL worker")
	return cmd
}

func (c *cli) etlCmd() *cobra.Command {
	var (
		vectors bool
		enqueue bool
	)
	cmd := &cobra.Command{
		Use:   "etl <prefix>",
		Short: "Project an existing batch into the graph and optionally the vector store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.project(cmd.Context(), args[0], etl.Options{Graph: true, Vectors: vectors}, enqueue)
		},
	}
	cmd.Flags().BoolVar(&vectors, "vectors", false, "also project embeddings")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "hand the projection to the ETL worker")
	return cmd
}

func etlRoots() []string {
	return util.GetEnvList("ETL_ROOTS", storage.DefaultRoots)
}

func (c *cli) lakeLsCmd() *cobra.Command {
	var (
		prefix string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "lake-ls",
		Short: "List committed batches, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			lake, err := c.b.Lake()
			if err != nil {
				return err
			}
			roots := etlRoots()
			if prefix != "" {
				roots = []string{prefix}
			}
			batches, err := storage.ListBatches(ctx, lake, roots)
			if err != nil {
				return err
			}
			sort.SliceStable(batches, func(i, j int) bool {
				return batches[i].Timestamp.After(batches[j].Timestamp)
			})
			if limit > 0 && len(batches) > limit {
				batches = batches[:limit]
			}

			w := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PREFIX\tSOURCE\tFETCHED_AT\tCOUNT")
			for _, b := range batches {
				meta, err := storage.ReadSidecar(ctx, lake, b.Prefix)
				if err != nil {
					fmt.Fprintf(w, "%s\t?\t?\t?\n", b.Prefix)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", b.Prefix, meta.Source, meta.FetchedAt.UTC().Format(time.RFC3339), meta.Count)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only list batches below this prefix")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of batches, 0 for all")
	return cmd
}

func (c *cli) etlAllCmd() *cobra.Command {
	var (
		since       string
		maxBatches  int
		graphOnly   bool
		vectorsOnly bool
	)
	cmd := &cobra.Command{
		Use:   "etl-all",
		Short: "Project every committed batch, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if graphOnly && vectorsOnly {
				return fmt.Errorf("%w: --graph-only and --vectors-only are exclusive", common.ErrInvalidInput)
			}
			opts := etl.AllOptions{
				Roots:   etlRoots(),
				Max:     maxBatches,
				Options: etl.Options{Graph: !vectorsOnly, Vectors: !graphOnly},
			}
			if since != "" {
				day, err := time.Parse(time.DateOnly, since)
				if err != nil {
					return fmt.Errorf("%w: --since %q: expected YYYY-MM-DD", common.ErrInvalidInput, since)
				}
				opts.Since = day
			}

			projector, err := c.b.Projector()
			if err != nil {
				return err
			}
			results, err := projector.RunAll(cmd.Context(), opts)
			for _, res := range results {
				c.warnPartial(res)
			}
			if perr := c.printJSON(results); perr != nil && err == nil {
				err = perr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only batches fetched on or after this UTC day (YYYY-MM-DD)")
	cmd.Flags().IntVar(&maxBatches, "max", 0, "stop after this many batches, 0 for all")
	cmd.Flags().BoolVar(&graphOnly, "graph-only", false, "skip the vector projection")
	cmd.Flags().BoolVar(&vectorsOnly, "vectors-only", false, "skip the graph projection")
	return cmd
}

func (c *cli) schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of companies.json and _meta.json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.printJSON(map[string]any{
				storage.PayloadFile: common.PayloadSchema(),
				storage.SidecarFile: common.SidecarSchema(),
			})
		},
	}
}
