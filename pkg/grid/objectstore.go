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

// Package grid implements fan-out of T tasks to W <= T workers via a
// persistent argument blob, a request queue, a result store, and a
// result-reader that streams completions back in arrival order.
package grid

import "context"

// ObjectStore is the put/get/list/delete seam over a backing object
// store. Production wiring is S3Store over
// github.com/aws/aws-sdk-go-v2/service/s3; tests use the in-memory
// fake in this package.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error

	// GetRange fetches bytes [from, to) of key. Used by workers to pull
	// just their task's argument out of the shared task-args/{job_id}
	// blob via a ranged GET.
	GetRange(ctx context.Context, key string, from, to int64) ([]byte, error)

	Get(ctx context.Context, key string) ([]byte, error)

	// List returns every key with the given prefix that sorts after
	// startAfter, in lexical order -- StartAfter pagination for
	// sub-linear result listing.
	List(ctx context.Context, prefix, startAfter string) ([]string, error)

	Delete(ctx context.Context, key string) error
}
