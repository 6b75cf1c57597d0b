package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	eventadapter "github.com/d-kimanthi/multi-agent-document-processor/internal/adapters/events"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/api/dto"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/config"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
	natsevents "github.com/d-kimanthi/multi-agent-document-processor/internal/events/nats"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/index"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/logging"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/status"
)

type options struct {
	server     string
	configPath string
	timeout    time.Duration
	json       bool
}

func (o *options) client() *apiClient {
	return newAPIClient(o.server, o.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "docctl",
		Short:         "docctl - control a docintel document pipeline",
		Long:          `docctl submits documents to a docintel API server and inspects workflows, agents and the search index.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	server := os.Getenv("DOCINTEL_SERVER")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVarP(&opts.server, "server", "s", server, "API server base URL")
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (defaults to $DOCINTEL_CONFIG)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "Print raw JSON")

	root.AddCommand(
		newConfigCmd(opts),
		newStatusCmd(opts),
		newAgentsCmd(opts),
		newIngestCmd(opts),
		newValidateCmd(opts),
		newWorkflowCmd(opts),
		newRestartCmd(opts),
		newMessagesCmd(opts),
		newSearchCmd(opts),
		newQueryCmd(opts),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newConfigCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var st status.SystemStatus
			if err := opts.client().get(cmd.Context(), "/api/v1/status", nil, &st); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, st)
			}
			fmt.Fprintf(out, "workflows: %d active / %d total\n", st.ActiveWorkflows, st.TotalWorkflows)
			fmt.Fprintf(out, "messages:  %d processed, %d errors (rate %.4f)\n", st.TotalProcessed, st.TotalErrors, st.ErrorRate)
			fmt.Fprintf(out, "latency:   %s avg\n", st.AvgLatency)
			fmt.Fprintf(out, "history:   %d messages\n\n", st.HistorySize)
			return printAgents(out, st.Agents)
		},
	}
}

func printAgents(out io.Writer, agents []domain.AgentStatus) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATE\tQUEUE\tPROCESSED\tERRORS\tAVG LATENCY")
	for _, a := range agents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%s\n",
			a.ID, a.Type, a.State, a.QueueDepth, a.QueueCapacity, a.Processed, a.Errors, a.AvgLatency)
	}
	return tw.Flush()
}

func newAgentsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp dto.AgentListResponse
			if err := opts.client().get(cmd.Context(), "/api/v1/agents", nil, &resp); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			return printAgents(cmd.OutOrStdout(), resp.Agents)
		},
	}
}

func newIngestCmd(opts *options) *cobra.Command {
	var viaNATS bool

	cmd := &cobra.Command{
		Use:   "ingest <document-id> <location>",
		Short: "Submit a document for processing",
		Long: `Submit a document for processing.

By default the document goes through the HTTP API and the workflow id is printed.
With --nats the command is published to the ingest stream for a worker to pick up.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if viaNATS {
				return publishIngest(cmd, opts, args[0], args[1])
			}
			var resp dto.SubmitDocumentResponse
			req := dto.SubmitDocumentRequest{DocumentID: args[0], Location: args[1]}
			if err := opts.client().post(cmd.Context(), "/api/v1/documents", req, &resp); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "workflow %s %s\n", resp.WorkflowID, resp.Status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&viaNATS, "nats", false, "Publish to NATS instead of calling the API")
	return cmd
}

func publishIngest(cmd *cobra.Command, opts *options, documentID, location string) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	nb, err := natsevents.New(natsevents.Config{URL: cfg.NATS.URL, Name: "docctl"})
	if err != nil {
		return err
	}
	defer nb.Close()

	if err := nb.SetupStreams(cfg.NATS.SubjectPrefix); err != nil {
		return err
	}
	eb := eventadapter.NewEventBus(nb, cfg.NATS.SubjectPrefix, logging.Discard())

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()
	if err := eb.PublishIngest(ctx, eventadapter.IngestCommand{DocumentID: documentID, Location: location}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published %s to %s\n", documentID, eb.Subjects().Ingest())
	return nil
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <location>",
		Short: "Check whether a document can be ingested",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var report map[string]any
			req := dto.ValidateDocumentRequest{Location: args[0]}
			if err := opts.client().post(cmd.Context(), "/api/v1/documents/validate", req, &report); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newWorkflowCmd(opts *options) *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:     "workflow [id]",
		Aliases: []string{"workflows", "wf"},
		Short:   "List workflows or show one",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				var wf domain.Workflow
				if err := c.get(cmd.Context(), "/api/v1/workflows/"+url.PathEscape(args[0]), nil, &wf); err != nil {
					return err
				}
				return printJSON(out, wf)
			}

			q := url.Values{}
			if filter != "" {
				q.Set("status", filter)
			}
			var resp dto.WorkflowListResponse
			if err := c.get(cmd.Context(), "/api/v1/workflows", q, &resp); err != nil {
				return err
			}
			if opts.json {
				return printJSON(out, resp)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDOCUMENT\tSTATUS\tSTEP\tERRORS\tSTARTED")
			for _, wf := range resp.Workflows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					wf.ID, wf.DocumentID, wf.Status, wf.CurrentStep, len(wf.Errors), wf.StartedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&filter, "status", "", "Only list workflows in this status")
	return cmd
}

func newRestartCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <agent-id>",
		Short: "Restart an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp dto.RestartResponse
			if err := opts.client().post(cmd.Context(), "/api/v1/agents/"+url.PathEscape(args[0])+"/restart", nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", resp.AgentID, resp.Status)
			return nil
		},
	}
}

func newMessagesCmd(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Show recent bus messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"limit": {strconv.Itoa(limit)}}
			var resp dto.MessageListResponse
			if err := opts.client().get(cmd.Context(), "/api/v1/messages", q, &resp); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tTYPE\tFROM\tTO\tWORKFLOW")
			for _, m := range resp.Messages {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					m.CreatedAt.Format(time.RFC3339Nano), m.Type, m.Sender, m.Recipient, m.CorrelationID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", status.DefaultMessageLimit, "Maximum number of messages")
	return cmd
}

func newSearchCmd(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed document chunks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{
				"q":     {strings.Join(args, " ")},
				"limit": {strconv.Itoa(limit)},
			}
			var resp dto.SearchResponse
			if err := opts.client().get(cmd.Context(), "/api/v1/search", q, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, resp)
			}
			if resp.Count == 0 {
				fmt.Fprintln(out, "no results")
				return nil
			}
			for i, hit := range resp.Results {
				fmt.Fprintf(out, "%d. %s (score %.3f)\n   %s\n", i+1, hit.ID, hit.Score, hit.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", index.DefaultLimit, "Maximum number of results")
	return cmd
}

func newQueryCmd(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Ask a question over the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := dto.QueryRequest{Question: strings.Join(args, " "), Limit: limit}
			var ans index.Answer
			if err := opts.client().post(cmd.Context(), "/api/v1/query", req, &ans); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, ans)
			}
			fmt.Fprintf(out, "%s\n(confidence %.2f)\n", ans.Answer, ans.Confidence)
			for _, s := range ans.Sources {
				fmt.Fprintf(out, "  - %s#%d %s\n", s.DocumentID, s.ChunkIndex, s.Snippet)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", index.DefaultLimit, "Number of chunks to consider")
	return cmd
}
