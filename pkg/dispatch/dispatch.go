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

package dispatch

import (
	"context"
	"time"

	"github.com/avast/retry-go"

	"github.com/meadowrun/meadowrun/pkg/apis/v1alpha1"
	"github.com/meadowrun/meadowrun/pkg/log"
)

// Options configures the bounded exponential backoff used for SSH
// connect (default 5 attempts, 1s base).
type Options struct {
	ConnectRetries   uint
	ConnectBaseDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.ConnectRetries == 0 {
		o.ConnectRetries = 5
	}
	if o.ConnectBaseDelay <= 0 {
		o.ConnectBaseDelay = time.Second
	}
	return o
}

// Dispatcher sends one Job to one host over a freshly connected
// Transport session, following an allocation decision the Allocator
// already committed to the Registry.
type Dispatcher struct {
	Transport Transport
	Opts      Options
}

func New(transport Transport, opts Options) *Dispatcher {
	return &Dispatcher{Transport: transport, Opts: opts.withDefaults()}
}

// Send connects to address with bounded exponential backoff and hands
// job to the resulting session, returning whatever ProcessState the
// remote side reports back synchronously.
func (d *Dispatcher) Send(ctx context.Context, address string, job v1alpha1.Job) (v1alpha1.ProcessState, error) {
	logger := log.FromContext(ctx)
	var session Session
	err := retry.Do(
		func() error {
			s, connErr := d.Transport.Connect(ctx, address)
			if connErr != nil {
				return connErr
			}
			session = s
			return nil
		},
		retry.Attempts(d.Opts.ConnectRetries),
		retry.Delay(d.Opts.ConnectBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Warnw("retrying ssh connect", "address", address, "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return v1alpha1.ProcessState{State: v1alpha1.RunRequestFailed}, err
	}
	defer session.Close()

	state, err := session.SendJob(ctx, job)
	if err != nil {
		return v1alpha1.ProcessState{State: v1alpha1.RunRequestFailed}, err
	}
	return state, nil
}
