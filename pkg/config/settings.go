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

// Package config resolves process-wide settings once at startup and
// threads them through context.Context. There's no ConfigMap or
// similar cluster resource to watch here, so Settings are resolved
// once from the environment and carried by value thereafter.
package config

import (
	"context"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Settings are the allocator's tunables. Every duration left
// unspecified or merely suggested gets a sensible configurable default
// here.
type Settings struct {
	// PhaseARetryPasses bounds how many times the Allocator retries
	// Phase A before falling through to Phase B. Whether three passes
	// is load-bearing or incidental is genuinely unclear, so it's
	// configurable rather than hardcoded.
	PhaseARetryPasses int `envconfig:"PHASE_A_RETRY_PASSES" default:"3"`

	// TaskRetryCeiling bounds how many attempts a grid task gets before
	// its last ProcessState is surfaced as final.
	TaskRetryCeiling int `envconfig:"TASK_RETRY_CEILING" default:"3"`

	// ClientLaunchGrace is how long an allocation may sit with no
	// liveness record before the sweeper treats the client as crashed.
	ClientLaunchGrace time.Duration `envconfig:"CLIENT_LAUNCH_GRACE" default:"5m"`

	// IdleShutdownGrace is how long an instance may sit with no running
	// jobs before the sweeper retires it.
	IdleShutdownGrace time.Duration `envconfig:"IDLE_SHUTDOWN_GRACE" default:"5m"`

	// SweepInterval is how often the sweeper runs its pass.
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`

	// ResultRetentionWindow bounds how long task-args/ and task-results/
	// blobs survive after a grid job finishes before the sweeper's
	// grid-blob GC check deletes them.
	ResultRetentionWindow time.Duration `envconfig:"RESULT_RETENTION_WINDOW" default:"24h"`

	// GridBucket names the S3 bucket backing the grid ObjectStore: the
	// task-args/ and task-results/ blobs the sweeper's grid-blob GC
	// check scans and deletes from.
	GridBucket string `envconfig:"GRID_BUCKET" default:"meadowrun-grid"`

	// MessageVisibilityTimeout is how long a request-queue message
	// stays invisible after a worker receives it.
	MessageVisibilityTimeout time.Duration `envconfig:"MESSAGE_VISIBILITY_TIMEOUT" default:"5m"`

	// ReceiveMessageWaitSeconds bounds the exponential backoff used by
	// receive_results while polling for new task results.
	ReceiveMessageWaitSeconds time.Duration `envconfig:"RECEIVE_MESSAGE_WAIT_SECONDS" default:"20s"`

	// SSHConnectRetries/SSHConnectBaseDelay implement a bounded
	// exponential backoff for SSH connect attempts (default 5 attempts,
	// 1s base).
	SSHConnectRetries   uint          `envconfig:"SSH_CONNECT_RETRIES" default:"5"`
	SSHConnectBaseDelay time.Duration `envconfig:"SSH_CONNECT_BASE_DELAY" default:"1s"`

	// DefaultInterruptionCeilingPct is used when a caller doesn't supply
	// one to the Instance-Type Selector.
	DefaultInterruptionCeilingPct float64 `envconfig:"DEFAULT_INTERRUPTION_CEILING_PCT" default:"80"`
}

// FromEnv resolves Settings from the process environment under the
// given prefix, applying the defaults documented above for anything
// unset.
func FromEnv(prefix string) (Settings, error) {
	var s Settings
	if err := envconfig.Process(prefix, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

type settingsKey struct{}

// ToContext threads resolved Settings through a context.
func ToContext(ctx context.Context, s Settings) context.Context {
	return context.WithValue(ctx, settingsKey{}, s)
}

// FromContext recovers Settings previously attached with ToContext,
// falling back to envconfig defaults if none were attached.
func FromContext(ctx context.Context) Settings {
	if s, ok := ctx.Value(settingsKey{}).(Settings); ok {
		return s
	}
	s, _ := FromEnv("MEADOWRUN")
	return s
}
