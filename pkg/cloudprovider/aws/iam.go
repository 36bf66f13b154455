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

package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// AccountID returns the account the client's credentials resolve to,
// fetched once via STS and cached on the client. The spec treats IAM/role provisioning as an external
// collaborator described only through the IAMRole field the Allocator
// passes to Launch; this is the thin sliver of that provisioning this
// module still owns -- turning a bare role name into an instance
// profile EC2 will actually accept, the same job
// providers/instanceprofile plays in the aws-karpenter-provider-aws
// sibling of this package.
func (c *Client) AccountID(ctx context.Context) (string, error) {
	if c.accountID != "" {
		return c.accountID, nil
	}
	out, err := c.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("resolving account id: %w", err)
	}
	c.accountID = aws.ToString(out.Account)
	return c.accountID, nil
}

// EnsureInstanceProfile gets-or-creates an EC2 instance profile named
// profileName wrapping roleName, so a configured IAM role name can be
// handed straight to RunInstances's IamInstanceProfileSpecification.
// Idempotent: an already-existing profile with the role attached is a
// no-op.
func (c *Client) EnsureInstanceProfile(ctx context.Context, profileName, roleName string) error {
	existing, err := c.IAM.GetInstanceProfile(ctx, &iam.GetInstanceProfileInput{InstanceProfileName: aws.String(profileName)})
	var notFound *iamtypes.NoSuchEntityException
	switch {
	case err == nil:
		for _, r := range existing.InstanceProfile.Roles {
			if aws.ToString(r.RoleName) == roleName {
				return nil
			}
		}
		_, err = c.IAM.AddRoleToInstanceProfile(ctx, &iam.AddRoleToInstanceProfileInput{
			InstanceProfileName: aws.String(profileName),
			RoleName:            aws.String(roleName),
		})
		if err != nil {
			return fmt.Errorf("attaching role %s to instance profile %s: %w", roleName, profileName, err)
		}
		return nil
	case errors.As(err, &notFound):
		if _, err := c.IAM.CreateInstanceProfile(ctx, &iam.CreateInstanceProfileInput{
			InstanceProfileName: aws.String(profileName),
		}); err != nil {
			return fmt.Errorf("creating instance profile %s: %w", profileName, err)
		}
		_, err := c.IAM.AddRoleToInstanceProfile(ctx, &iam.AddRoleToInstanceProfileInput{
			InstanceProfileName: aws.String(profileName),
			RoleName:            aws.String(roleName),
		})
		if err != nil {
			return fmt.Errorf("attaching role %s to new instance profile %s: %w", roleName, profileName, err)
		}
		return nil
	default:
		return fmt.Errorf("looking up instance profile %s: %w", profileName, err)
	}
}
