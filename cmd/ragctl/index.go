package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/ragd/internal/http"
	"github.com/fyrsmithlabs/ragd/internal/jobs"
)

type pushRequest struct {
	DoReset bool `json:"do_reset"`
	Async   bool `json:"async"`
}

func newPushCmd(opts *options) *cobra.Command {
	var (
		req  pushRequest
		wait bool
		poll time.Duration
	)
	cmd := &cobra.Command{
		Use:   "push <project-id>",
		Short: "Index a project's chunks into its vector collection",
		Long: `Embed a project's stored chunks and write them to its vector collection.

Examples:
  # Rebuild the collection from scratch
  ragctl push docs --reset

  # Run in the background and wait for the job to finish
  ragctl push docs --async --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(opts)
			var resp httpapi.PushResponse
			raw, err := c.postJSON(cmd.Context(), "/api/v1/nlp/index/push/"+url.PathEscape(args[0]), req, &resp)
			if err != nil {
				return err
			}
			if !req.Async {
				if opts.json {
					return printRaw(cmd.OutOrStdout(), raw)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Inserted %d item(s)\n", resp.InsertedItemsCount)
				return nil
			}

			if !wait {
				if opts.json {
					return printRaw(cmd.OutOrStdout(), raw)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s accepted\n", resp.JobID)
				return nil
			}
			job, raw, err := c.waitJob(cmd.Context(), resp.JobID, poll)
			if err != nil {
				return err
			}
			if opts.json {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			return printJob(cmd.OutOrStdout(), job)
		},
	}
	cmd.Flags().BoolVar(&req.DoReset, "reset", false, "drop and recreate the collection first")
	cmd.Flags().BoolVar(&req.Async, "async", false, "run as a background job")
	cmd.Flags().BoolVar(&wait, "wait", false, "with --async, poll until the job finishes")
	cmd.Flags().DurationVar(&poll, "poll", time.Second, "job poll interval for --wait")
	return cmd
}

// waitJob polls a job until it reaches a terminal state.
func (c *client) waitJob(ctx context.Context, jobID string, every time.Duration) (*jobs.Job, []byte, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		var resp httpapi.JobResponse
		raw, err := c.get(ctx, "/api/v1/nlp/index/jobs/"+url.PathEscape(jobID), &resp)
		if err != nil {
			return nil, raw, err
		}
		if resp.Job == nil {
			return nil, raw, fmt.Errorf("job %s: empty response", jobID)
		}
		if resp.Job.Status == jobs.StatusCompleted || resp.Job.Status == jobs.StatusFailed {
			return resp.Job, raw, nil
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printJob(w io.Writer, job *jobs.Job) error {
	fmt.Fprintf(w, "Job:     %s\n", job.ID)
	fmt.Fprintf(w, "Project: %s\n", job.ProjectID)
	fmt.Fprintf(w, "Status:  %s\n", job.Status)
	if job.Result != nil {
		fmt.Fprintf(w, "Inserted: %d item(s) in %d page(s)\n", job.Result.Inserted, job.Result.Pages)
	}
	if job.Status == jobs.StatusFailed {
		return fmt.Errorf("job %s failed: %s", job.ID, job.Error)
	}
	return nil
}

func newJobCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "job <job-id>",
		Short: "Show the state of a background index job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpapi.JobResponse
			raw, err := newClient(opts).get(cmd.Context(), "/api/v1/nlp/index/jobs/"+url.PathEscape(args[0]), &resp)
			if err != nil {
				return err
			}
			if opts.json {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			if resp.Job == nil {
				return fmt.Errorf("job %s: empty response", args[0])
			}
			return printJob(cmd.OutOrStdout(), resp.Job)
		},
	}
}

func newInfoCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "info <project-id>",
		Short: "Describe a project's vector collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpapi.InfoResponse
			raw, err := newClient(opts).get(cmd.Context(), "/api/v1/nlp/index/info/"+url.PathEscape(args[0]), &resp)
			if err != nil {
				return err
			}
			if opts.json || resp.CollectionInfo == nil {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			info := resp.CollectionInfo
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Collection: %s\n", info.Name)
			fmt.Fprintf(out, "Points:     %d\n", info.PointCount)
			fmt.Fprintf(out, "Dimension:  %d\n", info.VectorSize)
			fmt.Fprintf(out, "Distance:   %s\n", info.Distance)
			if info.Status != "" {
				fmt.Fprintf(out, "Status:     %s\n", info.Status)
			}
			return nil
		},
	}
}

func newSearchCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <project-id> <query...>",
		Short: "Search a project's index",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := httpapi.SearchRequest{Text: strings.Join(args[1:], " "), Limit: limit}
			var resp httpapi.SearchResponse
			raw, err := newClient(opts).postJSON(cmd.Context(), "/api/v1/nlp/index/search/"+url.PathEscape(args[0]), req, &resp)
			if err != nil {
				return err
			}
			if opts.json {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			if len(resp.Results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No results")
				return nil
			}
			for i, doc := range resp.Results {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. [%.4f] %s\n", i+1, doc.Score, doc.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results (server default when 0)")
	return cmd
}

func newAnswerCmd(opts *options) *cobra.Command {
	var (
		limit      int
		showPrompt bool
	)
	cmd := &cobra.Command{
		Use:   "answer <project-id> <question...>",
		Short: "Answer a question from a project's documents",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := httpapi.SearchRequest{Text: strings.Join(args[1:], " "), Limit: limit}
			var resp httpapi.AnswerResponse
			raw, err := newClient(opts).postJSON(cmd.Context(), "/api/v1/nlp/index/answer/"+url.PathEscape(args[0]), req, &resp)
			if err != nil {
				return err
			}
			if opts.json {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			if resp.Answer == nil {
				return fmt.Errorf("empty answer")
			}
			if showPrompt {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s\n---\n", resp.FullPrompt)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "documents to retrieve (server default when 0)")
	cmd.Flags().BoolVar(&showPrompt, "show-prompt", false, "print the full prompt to stderr")
	return cmd
}
