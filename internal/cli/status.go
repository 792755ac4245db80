package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ChuLiYu/knock-server/internal/config"
)

type statusOptions struct {
	server     string
	logs       int
	showConfig bool
}

func buildStatusCommand() *cobra.Command {
	var opts statusOptions

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show coordinator status",
		Long:  "Render online devices, queue statistics and the recent event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", "", "coordinator URL (default agent.server from config)")
	cmd.Flags().IntVar(&opts.logs, "logs", 10, "number of log entries to show")
	cmd.Flags().BoolVar(&opts.showConfig, "show-config", false, "print the effective configuration and exit")

	return cmd
}

func showStatus(ctx context.Context, out io.Writer, opts statusOptions) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if opts.showConfig {
		data, err := config.Dump(cfg)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	if opts.server == "" {
		opts.server = cfg.Agent.Server
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := newAPIClient(opts.server)
	summary, err := client.Summary(ctx)
	if err != nil {
		return fmt.Errorf("coordinator unreachable: %w", err)
	}
	devices, err := client.Devices(ctx)
	if err != nil {
		return err
	}
	logs, err := client.Logs(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, renderStatus(opts.server, summary, devices, logs, opts.logs))
	return nil
}

func renderStatus(server string, summary summaryResponse, devices devicesResponse, logs []string, maxLogs int) string {
	var b strings.Builder

	b.WriteString(styleTitle.Render("Knock-Server Status"))
	b.WriteString("\n")
	b.WriteString(styleMuted.Render(server))
	b.WriteString("\n\n")

	// Summary
	b.WriteString(styleHeader.Render("Summary"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  Online devices: %d / %d\n", summary.OnlineCount, devices.Count)
	fmt.Fprintf(&b, "  Pending: %d  Assigned: %d  Completed: %d\n\n",
		summary.Queue.Pending, summary.Queue.Assigned, summary.Queue.Completed)

	// Devices
	b.WriteString(styleHeader.Render("Devices"))
	b.WriteString("\n")
	if len(devices.Devices) == 0 {
		b.WriteString(styleMuted.Render("  no devices have polled yet"))
		b.WriteString("\n")
	}
	for _, d := range devices.Devices {
		state := styleError.Render("● offline")
		if d.Online {
			state = styleSuccess.Render("● online ")
		}
		row := lipgloss.JoinHorizontal(lipgloss.Top,
			lipgloss.NewStyle().Width(22).Render("  "+d.ID),
			lipgloss.NewStyle().Width(12).Render(state),
			lipgloss.NewStyle().Width(14).Render(fmt.Sprintf("%ds ago", d.SecondsAgo)),
			fmt.Sprintf("%d knocks", d.CompletedCount),
		)
		b.WriteString(row)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	// Logs
	b.WriteString(styleHeader.Render("Recent events"))
	b.WriteString("\n")
	if maxLogs > 0 && len(logs) > maxLogs {
		logs = logs[:maxLogs]
	}
	for _, line := range logs {
		b.WriteString("  " + line + "\n")
	}

	return b.String()
}
