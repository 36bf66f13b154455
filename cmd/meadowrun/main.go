/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meadowrun/meadowrun/pkg/apis/v1alpha1"
	awscloud "github.com/meadowrun/meadowrun/pkg/cloudprovider/aws"
	"github.com/meadowrun/meadowrun/pkg/config"
	"github.com/meadowrun/meadowrun/pkg/grid"
	"github.com/meadowrun/meadowrun/pkg/log"
	"github.com/meadowrun/meadowrun/pkg/providers/instancetype"
	"github.com/meadowrun/meadowrun/pkg/registry"
	"github.com/meadowrun/meadowrun/pkg/scheduling"
	"github.com/meadowrun/meadowrun/pkg/sweeper"
)

// Options are the process's command-line flags; everything else comes
// from config.Settings via environment variables.
type Options struct {
	MetricsAddr         string
	AllocateRequestFile string
}

// allocateRequest is the one-shot CLI surface over Allocator.Allocate:
// a JSON document read from a file (or "-" for stdin) describing one
// call, so a deployment's scheduler can shell out to this binary
// instead of linking pkg/scheduling directly.
type allocateRequest struct {
	ResourcesPerWorker     v1alpha1.Resources `json:"resources_per_worker"`
	NumWorkers             int                `json:"num_workers"`
	InterruptionCeilingPct float64            `json:"interruption_ceiling_pct"`
}

type allocateResponse struct {
	Assigned  map[string][]string `json:"assigned"`
	Shortfall int                 `json:"shortfall,omitempty"`
	Error     string              `json:"error,omitempty"`
}

func main() {
	opts := Options{}
	flag.StringVar(&opts.MetricsAddr, "metrics-addr", ":8080", "The address the Prometheus metrics endpoint binds to.")
	flag.StringVar(&opts.AllocateRequestFile, "allocate-request-file", "", `If set, read one allocateRequest as JSON from this path ("-" for stdin), call Allocate once, print the result as JSON, and exit instead of running the long-lived sweeper process.`)
	flag.Parse()

	logger := log.NewProduction()
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = log.IntoContext(ctx, logger)

	settings, err := config.FromEnv("MEADOWRUN")
	if err != nil {
		logger.Fatalw("unable to resolve settings", "error", err)
	}
	ctx = config.ToContext(ctx, settings)

	cloud, err := awscloud.NewClient(ctx)
	if err != nil {
		logger.Fatalw("unable to build cloud provider client", "error", err)
	}

	reg := registry.NewStore()
	selector := instancetype.NewSelector(instancetype.CloudCatalog{Cloud: cloud})
	allocator := scheduling.New(reg, selector, cloud, scheduling.Options{
		PhaseARetryPasses: settings.PhaseARetryPasses,
	})

	if opts.AllocateRequestFile != "" {
		if err := runAllocateRequest(ctx, allocator, opts.AllocateRequestFile); err != nil {
			logger.Fatalw("allocate request failed", "error", err)
		}
		return
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Fatalw("unable to load AWS config for grid object store", "error", err)
	}
	gridStore := grid.NewS3Store(s3.NewFromConfig(awsCfg), settings.GridBucket)

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		logger.Infow("serving metrics", "addr", opts.MetricsAddr)
		if err := http.ListenAndServe(opts.MetricsAddr, nil); err != nil && err != http.ErrServerClosed {
			logger.Errorw("metrics server stopped", "error", err)
		}
	}()

	sweep := sweeper.New(reg, cloud, noopLiveness{}, sweeper.Options{
		ClientLaunchGrace:     settings.ClientLaunchGrace,
		IdleShutdownGrace:     settings.IdleShutdownGrace,
		ResultRetentionWindow: settings.ResultRetentionWindow,
	})
	sweep.Store = gridStore
	logger.Infow("starting sweeper", "interval", settings.SweepInterval, "grid_bucket", settings.GridBucket)
	sweep.Run(ctx, settings.SweepInterval)

	logger.Info("shutting down")
}

// runAllocateRequest is the binary's one-shot CLI entry point: decode
// an allocateRequest, call Allocate once, and print the outcome as
// JSON to stdout. A *scheduling.PartialAllocationError still prints the
// partial assignment it carries, matching Allocate's own contract of
// returning whatever progress was made alongside the error.
func runAllocateRequest(ctx context.Context, allocator *scheduling.Allocator, path string) error {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening allocate request %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	var req allocateRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return fmt.Errorf("decoding allocate request: %w", err)
	}

	assigned, err := allocator.Allocate(ctx, req.ResourcesPerWorker, req.NumWorkers, req.InterruptionCeilingPct)
	resp := allocateResponse{Assigned: assigned}
	var partial *scheduling.PartialAllocationError
	switch {
	case err == nil:
	case errors.As(err, &partial):
		resp.Assigned = partial.Assigned
		resp.Shortfall = partial.Shortfall
		resp.Error = err.Error()
	default:
		resp.Error = err.Error()
	}

	if err := json.NewEncoder(os.Stdout).Encode(resp); err != nil {
		return fmt.Errorf("encoding allocate response: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}
	return nil
}

// noopLiveness reports every job as never having a liveness record,
// which drives every allocation through the sweeper's client-launch-grace
// phantom-allocation path rather than its liveness-read fast path.
// Reading the actual liveness file is an SSH round trip over
// pkg/dispatch.Transport and belongs to a deployment's own wiring, not
// this binary's default.
type noopLiveness struct{}

func (noopLiveness) Check(_ context.Context, _, _ string) (v1alpha1.ProcessState, bool, bool, error) {
	return v1alpha1.ProcessState{}, false, false, nil
}
