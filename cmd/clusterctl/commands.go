package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"cluster-backend/internal/models"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	server  string
	timeout time.Duration
}

// Root clusterctl 的根命令
func Root() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "clusterctl",
		Short:         "Drive cluster deployments on a clusterd control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.server, "server", "s", "localhost:8080", "Control plane address")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Per-request timeout")

	cmd.AddCommand(operationCmd(opts, "deploy", "Deploy pending changes of a cluster"))
	cmd.AddCommand(operationCmd(opts, "stop", "Stop the deployment in progress"))
	cmd.AddCommand(operationCmd(opts, "reset", "Reset a deployed cluster back to new"))
	cmd.AddCommand(taskCmd(opts))
	cmd.AddCommand(notificationsCmd(opts))
	cmd.AddCommand(clustersCmd(opts))
	return cmd
}

func (o *rootOptions) client() *apiClient {
	return newAPIClient(o.server, o.timeout)
}

// operationCmd deploy/stop/reset 共用：提交后可选等待结束
func operationCmd(opts *rootOptions, name, short string) *cobra.Command {
	var (
		wait     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   name + " CLUSTER_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clusterID, err := parseClusterID(args[0])
			if err != nil {
				return err
			}
			client := opts.client()

			var task models.Task
			if err := client.do(cmd.Context(), "POST", fmt.Sprintf("/clusters/%d/%s", clusterID, name), nil, &task); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s accepted: task %s\n", task.Name, task.ID)
			if !wait {
				return nil
			}

			view, err := waitTask(cmd.Context(), client, task.ID, interval)
			if err != nil {
				return err
			}
			printTask(out, view)
			if view.Status == models.TaskStatusError {
				return fmt.Errorf("%s failed: %s", view.Name, view.Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait until the operation finishes")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Polling interval used with --wait")
	return cmd
}

func taskCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "task TASK_UUID",
		Short: "Show a task and its stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var view models.TaskView
			if err := opts.client().do(cmd.Context(), "GET", "/tasks/"+args[0], nil, &view); err != nil {
				return err
			}
			printTask(cmd.OutOrStdout(), &view)
			return nil
		},
	}
}

func notificationsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "notifications CLUSTER_ID",
		Short: "List notifications of a cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clusterID, err := parseClusterID(args[0])
			if err != nil {
				return err
			}
			var notes []models.Notification
			if err := opts.client().do(cmd.Context(), "GET", fmt.Sprintf("/clusters/%d/notifications", clusterID), nil, &notes); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, n := range notes {
				fmt.Fprintf(out, "%s  %-7s  %s\n", n.CreatedAt.Format(time.RFC3339), n.Topic, n.Message)
			}
			return nil
		},
	}
}

func clustersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clusters",
		Short: "List clusters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var clusters []models.Cluster
			if err := opts.client().do(cmd.Context(), "GET", "/clusters", nil, &clusters); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range clusters {
				fmt.Fprintf(out, "%d  %-12s  %s\n", c.ID, c.Status, c.Name)
			}
			return nil
		},
	}
}

func parseClusterID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid cluster id %q", s)
	}
	return id, nil
}

// waitTask 轮询任务直到终态
func waitTask(ctx context.Context, client *apiClient, id string, interval time.Duration) (*models.TaskView, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var view models.TaskView
		if err := client.do(ctx, "GET", "/tasks/"+id, nil, &view); err != nil {
			return nil, err
		}
		if view.Status.Terminal() {
			return &view, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printTask(out io.Writer, view *models.TaskView) {
	fmt.Fprintf(out, "%s  %s  %s  %d%%\n", view.ID, view.Name, view.Status, view.Progress)
	if view.Message != "" {
		fmt.Fprintf(out, "  %s\n", view.Message)
	}
	for _, sub := range view.Subtasks {
		line := fmt.Sprintf("  - %-22s %-8s %3d%%", sub.Name, sub.Status, sub.Progress)
		if sub.Message != "" {
			line += "  " + sub.Message
		}
		fmt.Fprintln(out, strings.TrimRight(line, " "))
	}
}
