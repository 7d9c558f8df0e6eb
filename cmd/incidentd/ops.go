package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bprzybys-nc/manager-sub001/api"
	"github.com/bprzybys-nc/manager-sub001/client"
	"github.com/bprzybys-nc/manager-sub001/incident"
	"github.com/bprzybys-nc/manager-sub001/job"
	"github.com/bprzybys-nc/manager-sub001/stream"
)

func (a *app) client() *client.Client {
	return client.New(a.cfg.Server.URL,
		client.WithToken(a.cfg.Server.Token),
		client.WithLogger(a.logger),
	)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newIncidentCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "incident",
		Aliases: []string{"inc"},
		Short:   "Create, inspect and resolve incidents on a running daemon",
	}

	var req api.CreateIncidentRequest
	create := &cobra.Command{
		Use:   "create",
		Short: "Report a new incident",
		RunE: func(cmd *cobra.Command, _ []string) error {
			acc, err := a.client().CreateIncident(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), acc)
		},
	}
	create.Flags().StringVar(&req.ID, "id", "", "incident id (generated when empty)")
	create.Flags().StringVar(&req.Hostname, "host", "", "affected host")
	create.Flags().StringVar(&req.Type, "type", string(incident.TypeOther), "incident type (low_free_space, high_cpu_usage, other)")
	create.Flags().StringVar(&req.Description, "description", "", "what was detected")
	_ = create.MarkFlagRequired("host")

	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List incidents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			incs, err := a.client().ListIncidents(cmd.Context(), incident.Status(status), limit, 0)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), incs)
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status")
	list.Flags().IntVar(&limit, "limit", 50, "maximum incidents to list")

	show := &cobra.Command{
		Use:   "show <incident-id>",
		Short: "Show an incident with its workflow and tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx := a.client(), cmd.Context()
			inc, err := c.GetIncident(ctx, args[0])
			if err != nil {
				return err
			}
			out := map[string]any{"incident": inc}
			if wf, err := c.Workflow(ctx, args[0]); err == nil {
				out["workflow"] = wf
			} else if !client.IsNotFound(err) {
				return err
			}
			tasks, err := c.Tasks(ctx, args[0])
			if err != nil {
				return err
			}
			out["tasks"] = tasks
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	closeCmd := &cobra.Command{
		Use:   "close <incident-id>",
		Short: "Close an incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().CloseIncident(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "incident %s closed\n", args[0])
			return nil
		},
	}

	ignore := &cobra.Command{
		Use:   "ignore <incident-id>",
		Short: "Mark an incident ignored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().IgnoreIncident(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "incident %s ignored\n", args[0])
			return nil
		},
	}

	var taskIDs, questionIDs []string
	resume := &cobra.Command{
		Use:   "resume <incident-id>",
		Short: "Re-enter an incident's workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := a.client().Resume(cmd.Context(), args[0], taskIDs, questionIDs)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), acc)
		},
	}
	resume.Flags().StringSliceVar(&taskIDs, "task", nil, "task ids with new results")
	resume.Flags().StringSliceVar(&questionIDs, "question", nil, "question ids with new answers")

	cmd.AddCommand(create, list, show, closeCmd, ignore, resume)
	return cmd
}

func newApproveCmd(a *app) *cobra.Command {
	var reject bool
	cmd := &cobra.Command{
		Use:   "approve <correlation-id>",
		Short: "Answer a remediation approval question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := a.client().AnswerApproval(cmd.Context(), args[0], !reject)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), acc)
		},
	}
	cmd.Flags().BoolVar(&reject, "reject", false, "decline the command instead")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [incident-id]",
		Short: "Stream lifecycle events of one incident, or of all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(a.cfg.Server.URL,
				client.WithToken(a.cfg.Server.Token),
				client.WithLogger(a.logger),
				client.WithReconnect(10, time.Second),
			)
			ctx := cmd.Context()
			var err error
			var events <-chan *stream.Event
			if len(args) == 1 {
				events, err = c.Watch(ctx, args[0])
			} else {
				events, err = c.WatchAll(ctx)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for evt := range events {
				fmt.Fprintf(out, "%s  %-28s %s\n", evt.Timestamp.Format("15:04:05"), evt.Type, strings.TrimSpace(string(evt.Data)))
			}
			return nil
		},
	}
}

func newJobsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and retry resumption jobs",
	}

	var f client.JobFilter
	var state string
	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs in one state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.State = job.State(state)
			jobs, err := a.client().ListJobs(cmd.Context(), f)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), jobs)
		},
	}
	list.Flags().StringVar(&state, "state", string(job.StateFailed), "job state")
	list.Flags().StringVar(&f.Queue, "queue", "", "queue name")
	list.Flags().StringVar(&f.IncidentID, "incident", "", "incident id")
	list.Flags().IntVar(&f.Limit, "limit", 50, "maximum jobs to list")

	retry := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Requeue a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := a.client().RetryJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), acc)
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue, workflow and stream statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.client().Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}

	cmd.AddCommand(list, retry, stats)
	return cmd
}
