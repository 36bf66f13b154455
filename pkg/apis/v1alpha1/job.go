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

package v1alpha1

import (
	"github.com/Pallinder/go-randomdata"
	"github.com/google/uuid"
)

// This file models the four one-of fields of the Job wire message as
// closed Go sum types: an unexported marker method keeps the set of
// variants exhaustive, rather than an open interface hierarchy anyone
// could extend.

// CodeDeployment selects where the job's code comes from.
type CodeDeployment interface{ isCodeDeployment() }

type ServerAvailableFolder struct{ Path string }
type GitRepoCommit struct {
	URL    string
	Commit string
	Path   string
}
type GitRepoBranch struct {
	URL    string
	Branch string
	Path   string
}

func (ServerAvailableFolder) isCodeDeployment() {}
func (GitRepoCommit) isCodeDeployment()         {}
func (GitRepoBranch) isCodeDeployment()         {}

// InterpreterDeployment selects how to run the code: a bare interpreter,
// a container image, or an environment spec to resolve on the host.
type InterpreterDeployment interface{ isInterpreterDeployment() }

type ServerAvailableInterpreter struct{ Path string }
type ContainerAtDigest struct {
	Repo   string
	Digest string
}
type ContainerAtTag struct {
	Repo string
	Tag  string
}
type ServerAvailableContainer struct{ Image string }

type EnvironmentSpecType string

const (
	EnvironmentSpecDefault EnvironmentSpecType = "DEFAULT"
	EnvironmentSpecConda   EnvironmentSpecType = "CONDA"
)

type EnvironmentSpecInCode struct {
	Type EnvironmentSpecType
	Path string
}

func (ServerAvailableInterpreter) isInterpreterDeployment() {}
func (ContainerAtDigest) isInterpreterDeployment()          {}
func (ContainerAtTag) isInterpreterDeployment()             {}
func (ServerAvailableContainer) isInterpreterDeployment()   {}
func (EnvironmentSpecInCode) isInterpreterDeployment()      {}

// JobSpec is either a shell command or a pickled Python function call.
type JobSpec interface{ isJobSpec() }

type PyCommand struct {
	Argv            []string
	PickledContext  []byte
}

type PyFunction struct {
	QualifiedName string
	PickledFn     []byte
	PickledArgs   []byte
}

func (PyCommand) isJobSpec()  {}
func (PyFunction) isJobSpec() {}

// CredentialsService names what a credentials source authenticates to.
type CredentialsService string

const (
	CredentialsServiceDocker CredentialsService = "DOCKER"
	CredentialsServiceGit    CredentialsService = "GIT"
)

type CredentialsSourceKind string

const (
	CredentialsUsernamePassword CredentialsSourceKind = "USERNAME_PASSWORD"
	CredentialsSSHKey          CredentialsSourceKind = "SSH_KEY"
)

// CredentialsSourceVariant is the one-of inside CredentialsSource: either
// a named secret in the cloud's secret manager or a file already on the
// host.
type CredentialsSourceVariant interface{ isCredentialsSourceVariant() }

type AWSSecret struct {
	Type CredentialsSourceKind
	Name string
}

type ServerAvailableFile struct {
	Type CredentialsSourceKind
	Path string
}

func (AWSSecret) isCredentialsSourceVariant()           {}
func (ServerAvailableFile) isCredentialsSourceVariant() {}

type CredentialsSource struct {
	Service CredentialsService
	URL     string
	Source  CredentialsSourceVariant
}

// EnvironmentVariable is one (key, value) pair forwarded to the job.
type EnvironmentVariable struct {
	Key   string
	Value string
}

// Job is the bit-stable message the Dispatcher sends over SSH to a
// chosen host. CodeDeployment, InterpreterDeployment, and JobSpec are
// each a one-of holding exactly one variant of its own sum type; the
// zero value of each interface field means "unset".
type Job struct {
	JobID                       string
	JobFriendlyName             string
	CodeDeployment              CodeDeployment
	InterpreterDeployment       InterpreterDeployment
	JobSpec                     JobSpec
	EnvironmentVariables        []EnvironmentVariable
	ResultHighestPickleProtocol int
	CredentialsSources          []CredentialsSource
}

// NewJob fills in JobID and JobFriendlyName when the caller leaves them
// blank: a fresh UUID for the id, and a human-rememberable two-word name
// for the friendly label -- the same generator the examples reach for
// whenever a test or a kwok fake needs a disposable name.
func NewJob(job Job) Job {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.JobFriendlyName == "" {
		job.JobFriendlyName = randomdata.SillyName()
	}
	return job
}
