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

// Package aws implements cloudprovider.CloudProvider against EC2/Pricing:
// a thin per-call wrapper around an *ec2.Client/*pricing.Client pair
// built from one shared aws.Config.
package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	pricingtypes "github.com/aws/aws-sdk-go-v2/service/pricing/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/meadowrun/meadowrun/pkg/apis/v1alpha1"
	"github.com/meadowrun/meadowrun/pkg/cloudprovider"
)

// Client wraps the AWS SDK v2 clients this allocator needs: EC2 for
// instance lifecycle, Pricing for the on-demand rate used to rank
// shapes, IAM for the thin instance-profile-provisioning sliver Launch
// needs, STS to resolve the account a set of credentials belongs to.
type Client struct {
	EC2     *ec2.Client
	Pricing *pricing.Client
	IAM     *iam.Client
	STS     *sts.Client

	accountID string
}

// NewClient loads the default AWS config chain (env vars, shared config,
// IMDS), then builds every service client from it.
func NewClient(ctx context.Context) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &Client{
		EC2:     ec2.NewFromConfig(cfg),
		Pricing: pricing.NewFromConfig(cfg, func(o *pricing.Options) { o.Region = "us-east-1" }),
		IAM:     iam.NewFromConfig(cfg),
		STS:     sts.NewFromConfig(cfg),
	}, nil
}

var _ cloudprovider.CloudProvider = (*Client)(nil)

// InstanceTypes describes every EC2 instance type offered in the
// client's region and joins it against the Pricing API's on-demand rate
// card. Spot interruption probability isn't exposed by a public AWS API,
// so it's approximated from the instance family via a small hardcoded
// table.
func (c *Client) InstanceTypes(ctx context.Context) ([]v1alpha1.InstanceTypeInfo, error) {
	var infos []v1alpha1.InstanceTypeInfo
	paginator := ec2.NewDescribeInstanceTypesPaginator(c.EC2, &ec2.DescribeInstanceTypesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing instance types: %w", err)
		}
		for _, it := range page.InstanceTypes {
			price, err := c.onDemandPrice(ctx, string(it.InstanceType))
			if err != nil {
				continue
			}
			infos = append(infos, v1alpha1.InstanceTypeInfo{
				Name:                       string(it.InstanceType),
				LogicalCPU:                 int(aws.ToInt32(it.VCpuInfo.DefaultVCpus)),
				MemoryGB:                   float64(aws.ToInt64(it.MemoryInfo.SizeInMiB)) / 1024,
				PricePerHour:               price,
				InterruptionProbabilityPct: interruptionEstimate(it),
				Market:                     v1alpha1.OnDemand,
			})
		}
	}
	return infos, nil
}

// Launch runs req.Count instances of req.InstanceType via RunInstances
// and waits for EC2 to assign each one a public address. It tolerates
// partial success: if fewer than req.Count instances came up, it returns
// what did plus a non-nil error.
func (c *Client) Launch(ctx context.Context, req cloudprovider.LaunchRequest) ([]cloudprovider.LaunchedInstance, error) {
	if req.IAMRole != "" {
		if err := c.EnsureInstanceProfile(ctx, req.IAMRole, req.IAMRole); err != nil {
			return nil, fmt.Errorf("ensuring instance profile for role %s: %w", req.IAMRole, err)
		}
	}

	tags := make([]ec2types.Tag, 0, len(req.Tags)+1)
	tags = append(tags, ec2types.Tag{Key: aws.String("meadowrun_allocated"), Value: aws.String("true")})
	for k, v := range req.Tags {
		tags = append(tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	out, err := c.EC2.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:          nil, // resolved by the environment-spec deployment path, out of scope here
		InstanceType:     ec2types.InstanceType(req.InstanceType.Name),
		MinCount:         aws.Int32(1),
		MaxCount:         aws.Int32(int32(req.Count)),
		SecurityGroupIds: []string{req.SecurityGroup},
		KeyName:          aws.String(req.KeyPairName),
		IamInstanceProfile: &ec2types.IamInstanceProfileSpecification{
			Name: aws.String(req.IAMRole),
		},
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeInstance,
			Tags:         tags,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("launching %d x %s: %w", req.Count, req.InstanceType.Name, err)
	}

	var launched []cloudprovider.LaunchedInstance
	var ids []string
	for _, inst := range out.Instances {
		ids = append(ids, aws.ToString(inst.InstanceId))
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("RunInstances returned no instances for %s", req.InstanceType.Name)
	}

	waiter := ec2.NewInstanceRunningWaiter(c.EC2)
	if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{InstanceIds: ids}, waitTimeout); err != nil {
		return launched, fmt.Errorf("waiting for %d instance(s) to become reachable: %w", len(ids), err)
	}
	desc, err := c.EC2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: ids})
	if err != nil {
		return launched, fmt.Errorf("describing launched instances: %w", err)
	}
	for _, res := range desc.Reservations {
		for _, inst := range res.Instances {
			addr := aws.ToString(inst.PublicIpAddress)
			if addr == "" {
				continue
			}
			launched = append(launched, cloudprovider.LaunchedInstance{
				PublicAddress: addr,
				InstanceType:  req.InstanceType,
			})
		}
	}
	if len(launched) < req.Count {
		return launched, fmt.Errorf("only %d of %d requested %s instances became reachable", len(launched), req.Count, req.InstanceType.Name)
	}
	return launched, nil
}

// Terminate shuts down the instance identified by its public address.
// Looking an instance up by address rather than instance ID mirrors how
// the Registry itself is keyed: the allocator never needs to remember
// cloud-native instance IDs once an instance is registered.
func (c *Client) Terminate(ctx context.Context, publicAddress string) error {
	id, err := c.instanceIDForAddress(ctx, publicAddress)
	if err != nil {
		return err
	}
	_, err = c.EC2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return fmt.Errorf("terminating %s: %w", publicAddress, err)
	}
	return nil
}

func (c *Client) instanceIDForAddress(ctx context.Context, publicAddress string) (string, error) {
	out, err := c.EC2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{{Name: aws.String("ip-address"), Values: []string{publicAddress}}},
	})
	if err != nil {
		return "", fmt.Errorf("resolving instance id for %s: %w", publicAddress, err)
	}
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			return aws.ToString(inst.InstanceId), nil
		}
	}
	return "", fmt.Errorf("no instance found with address %s", publicAddress)
}

func (c *Client) onDemandPrice(ctx context.Context, instanceType string) (float64, error) {
	out, err := c.Pricing.GetProducts(ctx, &pricing.GetProductsInput{
		ServiceCode: aws.String("AmazonEC2"),
		Filters: []pricingtypes.Filter{
			{Type: pricingtypes.FilterTypeTermMatch, Field: aws.String("instanceType"), Value: aws.String(instanceType)},
			{Type: pricingtypes.FilterTypeTermMatch, Field: aws.String("operatingSystem"), Value: aws.String("Linux")},
			{Type: pricingtypes.FilterTypeTermMatch, Field: aws.String("tenancy"), Value: aws.String("Shared")},
			{Type: pricingtypes.FilterTypeTermMatch, Field: aws.String("preInstalledSw"), Value: aws.String("NA")},
		},
		MaxResults: aws.Int32(1),
	})
	if err != nil || len(out.PriceList) == 0 {
		return 0, fmt.Errorf("no pricing data for %s", instanceType)
	}
	return parseOnDemandUSDPerHour(out.PriceList[0])
}

// pricingOffer mirrors just the branch of the Pricing API's offer
// document this package needs: terms.OnDemand is keyed by an opaque
// offer-term-code, and each offer's priceDimensions is keyed by an
// opaque rate-code -- both effectively random per SKU, so they're
// walked as maps rather than named fields.
type pricingOffer struct {
	Terms struct {
		OnDemand map[string]struct {
			PriceDimensions map[string]struct {
				PricePerUnit struct {
					USD string `json:"USD"`
				} `json:"pricePerUnit"`
			} `json:"priceDimensions"`
		} `json:"OnDemand"`
	} `json:"terms"`
}

// parseOnDemandUSDPerHour extracts the single terms.OnDemand leaf rate
// from one Pricing API offer document. Callers have already filtered
// GetProducts down to one SKU, so the first priceDimensions entry
// found is the on-demand hourly rate.
func parseOnDemandUSDPerHour(priceListJSON string) (float64, error) {
	var offer pricingOffer
	if err := json.Unmarshal([]byte(priceListJSON), &offer); err != nil {
		return 0, fmt.Errorf("decoding price list: %w", err)
	}
	for _, term := range offer.Terms.OnDemand {
		for _, dim := range term.PriceDimensions {
			rate, err := strconv.ParseFloat(dim.PricePerUnit.USD, 64)
			if err != nil {
				return 0, fmt.Errorf("parsing USD rate %q: %w", dim.PricePerUnit.USD, err)
			}
			return rate, nil
		}
	}
	return 0, fmt.Errorf("price list has no OnDemand priceDimensions")
}

func waitTimeout(o *ec2.InstanceRunningWaiterOptions) {
	o.MaxDelay = 0
}

// interruptionEstimate approximates spot interruption probability from
// instance family when the account has no direct Spot Placement Score
// access wired. Burstable (t-family) instances are rated less reliable
// than general-purpose families; everything else defaults to a middling
// estimate.
func interruptionEstimate(it ec2types.InstanceTypeInfo) float64 {
	family := string(it.InstanceType)
	switch {
	case len(family) > 0 && family[0] == 't':
		return 15
	case len(family) > 1 && family[1] == '5':
		return 5
	default:
		return 10
	}
}
