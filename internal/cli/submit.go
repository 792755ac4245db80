package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/knock-server/internal/config"
	"github.com/ChuLiYu/knock-server/internal/server"
	"github.com/ChuLiYu/knock-server/pkg/types"
)

// jobSubmitter is satisfied by both apiClient and server.Client.
type jobSubmitter interface {
	SubmitJob(ctx context.Context, target string) (types.JobID, error)
}

// JobSpec is one entry of a submit batch file.
type JobSpec struct {
	Target string `yaml:"target"`
	Count  int    `yaml:"count"`
}

// JobFile is the YAML layout accepted by `knock submit --file`:
//
//	jobs:
//	  - count: 3            # any device
//	  - target: "AA:BB:CC"  # forced
type JobFile struct {
	Jobs []JobSpec `yaml:"jobs"`
}

type submitOptions struct {
	target    string
	count     int
	file      string
	server    string
	transport string
}

func buildSubmitCommand() *cobra.Command {
	var opts submitOptions

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue knock jobs",
		Long:  "Queue one or more knocks, optionally forced to a device, or a batch from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.target, "target", "t", "", "device id to force the knock on")
	cmd.Flags().IntVar(&opts.count, "count", 1, "number of knocks to queue")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "YAML file with a jobs list")
	cmd.Flags().StringVar(&opts.server, "server", "", "coordinator URL (http) or address (grpc)")
	cmd.Flags().StringVar(&opts.transport, "transport", "http", "http or grpc")

	return cmd
}

func parseJobFile(path string) ([]JobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}

	var file JobFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse job file: %w", err)
	}
	for i := range file.Jobs {
		if file.Jobs[i].Count <= 0 {
			file.Jobs[i].Count = 1
		}
	}
	return file.Jobs, nil
}

func runSubmit(ctx context.Context, out io.Writer, opts submitOptions) error {
	specs := []JobSpec{{Target: opts.target, Count: opts.count}}
	if opts.file != "" {
		parsed, err := parseJobFile(opts.file)
		if err != nil {
			return err
		}
		specs = parsed
	}

	if opts.server == "" {
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		opts.server = cfg.Agent.ServerFor(opts.transport)
	}

	var submitter jobSubmitter
	switch opts.transport {
	case "", "http":
		submitter = newAPIClient(opts.server)
	case "grpc":
		conn, err := server.Dial(opts.server)
		if err != nil {
			return err
		}
		defer conn.Close()
		submitter = server.NewClient(conn)
	default:
		return fmt.Errorf("unknown transport %q (want http or grpc)", opts.transport)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return submitAll(ctx, out, submitter, specs)
}

func submitAll(ctx context.Context, out io.Writer, s jobSubmitter, specs []JobSpec) error {
	total, failed := 0, 0
	for _, spec := range specs {
		for i := 0; i < spec.Count; i++ {
			total++
			id, err := s.SubmitJob(ctx, spec.Target)
			if err != nil {
				failed++
				fmt.Fprintln(out, styleError.Render(fmt.Sprintf("✗ %v", err)))
				continue
			}
			line := fmt.Sprintf("✓ queued %s", id)
			if spec.Target != "" {
				line += " → " + spec.Target
			}
			fmt.Fprintln(out, styleSuccess.Render(line))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d/%d submissions failed", failed, total)
	}
	return nil
}
