// Package awsec2 provisions worker instances on AWS EC2, managing a
// dedicated VPC, subnet, security group, and keypair per namespace.
package awsec2

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"golang.org/x/time/rate"

	"github.com/nucypher/nucypher-ops/pkg/deploy"
	"github.com/nucypher/nucypher-ops/pkg/emitter"
	opserrors "github.com/nucypher/nucypher-ops/pkg/errors"
)

// ProviderName is the registry name for AWS EC2.
const ProviderName = "aws"

// defaultRegion hosts instances when neither the environment nor the AWS
// profile names one.
const defaultRegion = "us-east-1"

// Network layout for the per-namespace VPC.
const (
	vpcCIDR    = "172.16.0.0/16"
	subnetCIDR = "172.16.1.0/24"
)

// Instance types by node flavor.
const (
	typeDecentralized = "t3.medium"
	typeFederated     = "t3.small"
)

// Ubuntu 20.04 LTS amd64 images published by Canonical.
const (
	amiOwner      = "099720109477"
	amiNamePrefix = "ubuntu/images/hvm-ssd/ubuntu-focal-20.04-amd64-server-*"
)

// Config param keys for the provider's shared resources.
const (
	paramRegion        = "ec2_region"
	paramVPC           = "ec2_vpc_id"
	paramSubnet        = "ec2_subnet_id"
	paramGateway       = "ec2_internet_gateway_id"
	paramRouteTable    = "ec2_route_table_id"
	paramSecurityGroup = "ec2_security_group_id"
	paramKeypair       = "ec2_keypair_name"
)

// keypairFileSuffix names the PEM file written next to the namespace state.
const keypairFileSuffix = "awsec2keypair.pem"

func init() {
	deploy.MustRegister(ProviderName, func(em *emitter.Emitter, cfg *deploy.Config, save func() error) (deploy.Provider, error) {
		return New(em, cfg, save), nil
	})
}

// api is the EC2 surface the provider uses; tests substitute a fake.
type api interface {
	DescribeImages(ctx context.Context, in *ec2.DescribeImagesInput, opts ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	CreateVpc(ctx context.Context, in *ec2.CreateVpcInput, opts ...func(*ec2.Options)) (*ec2.CreateVpcOutput, error)
	ModifyVpcAttribute(ctx context.Context, in *ec2.ModifyVpcAttributeInput, opts ...func(*ec2.Options)) (*ec2.ModifyVpcAttributeOutput, error)
	DeleteVpc(ctx context.Context, in *ec2.DeleteVpcInput, opts ...func(*ec2.Options)) (*ec2.DeleteVpcOutput, error)
	CreateSubnet(ctx context.Context, in *ec2.CreateSubnetInput, opts ...func(*ec2.Options)) (*ec2.CreateSubnetOutput, error)
	ModifySubnetAttribute(ctx context.Context, in *ec2.ModifySubnetAttributeInput, opts ...func(*ec2.Options)) (*ec2.ModifySubnetAttributeOutput, error)
	DeleteSubnet(ctx context.Context, in *ec2.DeleteSubnetInput, opts ...func(*ec2.Options)) (*ec2.DeleteSubnetOutput, error)
	CreateInternetGateway(ctx context.Context, in *ec2.CreateInternetGatewayInput, opts ...func(*ec2.Options)) (*ec2.CreateInternetGatewayOutput, error)
	AttachInternetGateway(ctx context.Context, in *ec2.AttachInternetGatewayInput, opts ...func(*ec2.Options)) (*ec2.AttachInternetGatewayOutput, error)
	DetachInternetGateway(ctx context.Context, in *ec2.DetachInternetGatewayInput, opts ...func(*ec2.Options)) (*ec2.DetachInternetGatewayOutput, error)
	DeleteInternetGateway(ctx context.Context, in *ec2.DeleteInternetGatewayInput, opts ...func(*ec2.Options)) (*ec2.DeleteInternetGatewayOutput, error)
	CreateRouteTable(ctx context.Context, in *ec2.CreateRouteTableInput, opts ...func(*ec2.Options)) (*ec2.CreateRouteTableOutput, error)
	CreateRoute(ctx context.Context, in *ec2.CreateRouteInput, opts ...func(*ec2.Options)) (*ec2.CreateRouteOutput, error)
	AssociateRouteTable(ctx context.Context, in *ec2.AssociateRouteTableInput, opts ...func(*ec2.Options)) (*ec2.AssociateRouteTableOutput, error)
	DeleteRouteTable(ctx context.Context, in *ec2.DeleteRouteTableInput, opts ...func(*ec2.Options)) (*ec2.DeleteRouteTableOutput, error)
	CreateSecurityGroup(ctx context.Context, in *ec2.CreateSecurityGroupInput, opts ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error)
	AuthorizeSecurityGroupIngress(ctx context.Context, in *ec2.AuthorizeSecurityGroupIngressInput, opts ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	DeleteSecurityGroup(ctx context.Context, in *ec2.DeleteSecurityGroupInput, opts ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error)
	CreateKeyPair(ctx context.Context, in *ec2.CreateKeyPairInput, opts ...func(*ec2.Options)) (*ec2.CreateKeyPairOutput, error)
	DeleteKeyPair(ctx context.Context, in *ec2.DeleteKeyPairInput, opts ...func(*ec2.Options)) (*ec2.DeleteKeyPairOutput, error)
	RunInstances(ctx context.Context, in *ec2.RunInstancesInput, opts ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, opts ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// Provider provisions EC2 instances for a namespace.
type Provider struct {
	em   *emitter.Emitter
	cfg  *deploy.Config
	save func() error

	// EC2 is overridable for tests; Prepare dials the real client when it
	// is nil.
	EC2 api

	// Store locates the keypair PEM file; nil uses the default root.
	Store *deploy.Store

	pollLimiter *rate.Limiter
}

// New builds an EC2 provider bound to a namespace config.
func New(em *emitter.Emitter, cfg *deploy.Config, save func() error) *Provider {
	return &Provider{
		em:          em,
		cfg:         cfg,
		save:        save,
		pollLimiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) store() *deploy.Store {
	if p.Store == nil {
		p.Store = deploy.NewStore("")
	}
	return p.Store
}

func (p *Provider) keypairPath() string {
	return p.store().KeypairPath(p.cfg.Namespace, keypairFileSuffix)
}

// Prepare dials the API and ensures the namespace's VPC, subnet, gateway,
// security group, and keypair exist, recording their IDs as it goes.
func (p *Provider) Prepare(ctx context.Context) error {
	if p.EC2 == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return opserrors.Wrap(opserrors.ErrCodeCredentials,
				"AWS credentials are required (configure them with `aws configure`)", err)
		}
		if region := os.Getenv("AWS_DEFAULT_REGION"); region != "" {
			awsCfg.Region = region
		}
		if awsCfg.Region == "" {
			awsCfg.Region = defaultRegion
		}
		p.cfg.SetParam(paramRegion, awsCfg.Region)
		p.EC2 = ec2.NewFromConfig(awsCfg)
	}

	if err := p.ensureNetwork(ctx); err != nil {
		return err
	}
	if err := p.ensureSecurityGroup(ctx); err != nil {
		return err
	}
	if err := p.ensureKeypair(ctx); err != nil {
		return err
	}
	return p.save()
}

func (p *Provider) ensureNetwork(ctx context.Context) error {
	if p.cfg.Param(paramVPC) == "" {
		out, err := p.EC2.CreateVpc(ctx, &ec2.CreateVpcInput{
			CidrBlock:         aws.String(vpcCIDR),
			TagSpecifications: nameTags(types.ResourceTypeVpc, p.cfg.Namespace),
		})
		if err != nil {
			return wrapAPIErr("failed to create VPC", err)
		}
		p.cfg.SetParam(paramVPC, aws.ToString(out.Vpc.VpcId))
		p.em.Echof(emitter.ColorYellow, "created VPC %s", p.cfg.Param(paramVPC))

		for _, attr := range []*ec2.ModifyVpcAttributeInput{
			{VpcId: out.Vpc.VpcId, EnableDnsSupport: &types.AttributeBooleanValue{Value: aws.Bool(true)}},
			{VpcId: out.Vpc.VpcId, EnableDnsHostnames: &types.AttributeBooleanValue{Value: aws.Bool(true)}},
		} {
			if _, err := p.EC2.ModifyVpcAttribute(ctx, attr); err != nil {
				return wrapAPIErr("failed to enable VPC DNS", err)
			}
		}
	}
	vpcID := aws.String(p.cfg.Param(paramVPC))

	if p.cfg.Param(paramGateway) == "" {
		out, err := p.EC2.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{})
		if err != nil {
			return wrapAPIErr("failed to create internet gateway", err)
		}
		igwID := aws.ToString(out.InternetGateway.InternetGatewayId)
		if _, err := p.EC2.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
			InternetGatewayId: aws.String(igwID),
			VpcId:             vpcID,
		}); err != nil {
			return wrapAPIErr("failed to attach internet gateway", err)
		}
		p.cfg.SetParam(paramGateway, igwID)
	}

	if p.cfg.Param(paramRouteTable) == "" {
		out, err := p.EC2.CreateRouteTable(ctx, &ec2.CreateRouteTableInput{VpcId: vpcID})
		if err != nil {
			return wrapAPIErr("failed to create route table", err)
		}
		rtID := aws.ToString(out.RouteTable.RouteTableId)
		if _, err := p.EC2.CreateRoute(ctx, &ec2.CreateRouteInput{
			RouteTableId:         aws.String(rtID),
			DestinationCidrBlock: aws.String("0.0.0.0/0"),
			GatewayId:            aws.String(p.cfg.Param(paramGateway)),
		}); err != nil {
			return wrapAPIErr("failed to create default route", err)
		}
		p.cfg.SetParam(paramRouteTable, rtID)
	}

	if p.cfg.Param(paramSubnet) == "" {
		out, err := p.EC2.CreateSubnet(ctx, &ec2.CreateSubnetInput{
			VpcId:     vpcID,
			CidrBlock: aws.String(subnetCIDR),
		})
		if err != nil {
			return wrapAPIErr("failed to create subnet", err)
		}
		subnetID := aws.ToString(out.Subnet.SubnetId)
		if _, err := p.EC2.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            aws.String(subnetID),
			MapPublicIpOnLaunch: &types.AttributeBooleanValue{Value: aws.Bool(true)},
		}); err != nil {
			return wrapAPIErr("failed to enable public addresses on subnet", err)
		}
		if _, err := p.EC2.AssociateRouteTable(ctx, &ec2.AssociateRouteTableInput{
			RouteTableId: aws.String(p.cfg.Param(paramRouteTable)),
			SubnetId:     aws.String(subnetID),
		}); err != nil {
			return wrapAPIErr("failed to associate route table", err)
		}
		p.cfg.SetParam(paramSubnet, subnetID)
	}
	return nil
}

func (p *Provider) ensureSecurityGroup(ctx context.Context) error {
	if p.cfg.Param(paramSecurityGroup) != "" {
		return nil
	}
	out, err := p.EC2.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String("Ursula-" + p.cfg.Namespace),
		Description: aws.String("ssh and worker node ports"),
		VpcId:       aws.String(p.cfg.Param(paramVPC)),
	})
	if err != nil {
		return wrapAPIErr("failed to create security group", err)
	}
	sgID := aws.ToString(out.GroupId)

	permissions := make([]types.IpPermission, 0, 3)
	for _, port := range []int32{22, deploy.UrsulaPort, deploy.PrometheusPort} {
		permissions = append(permissions, types.IpPermission{
			IpProtocol: aws.String("tcp"),
			FromPort:   aws.Int32(port),
			ToPort:     aws.Int32(port),
			IpRanges:   []types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
		})
	}
	if _, err := p.EC2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       aws.String(sgID),
		IpPermissions: permissions,
	}); err != nil {
		return wrapAPIErr("failed to authorize ingress", err)
	}
	p.cfg.SetParam(paramSecurityGroup, sgID)
	return nil
}

func (p *Provider) ensureKeypair(ctx context.Context) error {
	if p.cfg.Param(paramKeypair) != "" {
		return nil
	}
	name := p.cfg.Namespace + "-keypair"
	out, err := p.EC2.CreateKeyPair(ctx, &ec2.CreateKeyPairInput{KeyName: aws.String(name)})
	if err != nil {
		return wrapAPIErr("failed to create keypair", err)
	}
	path := p.keypairPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create keypair directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(aws.ToString(out.KeyMaterial)), 0400); err != nil {
		return fmt.Errorf("failed to write keypair file: %w", err)
	}
	p.em.Echof(emitter.ColorYellow, "saved keypair to %s", path)
	p.cfg.SetParam(paramKeypair, name)
	return nil
}

// latestImage resolves the newest Canonical Ubuntu 20.04 AMI in the region.
func (p *Provider) latestImage(ctx context.Context) (string, error) {
	out, err := p.EC2.DescribeImages(ctx, &ec2.DescribeImagesInput{
		Owners: []string{amiOwner},
		Filters: []types.Filter{
			{Name: aws.String("name"), Values: []string{amiNamePrefix}},
			{Name: aws.String("state"), Values: []string{"available"}},
		},
	})
	if err != nil {
		return "", wrapAPIErr("failed to look up Ubuntu AMI", err)
	}
	if len(out.Images) == 0 {
		return "", opserrors.New(opserrors.ErrCodeProvider, "no Ubuntu 20.04 AMI available in this region")
	}
	images := out.Images
	sort.Slice(images, func(i, j int) bool {
		return aws.ToString(images[i].CreationDate) > aws.ToString(images[j].CreationDate)
	})
	return aws.ToString(images[0].ImageId), nil
}

// CreateNode launches an instance and waits for its public address.
func (p *Provider) CreateNode(ctx context.Context, nodeName string) (*deploy.InstanceData, error) {
	imageID, err := p.latestImage(ctx)
	if err != nil {
		return nil, err
	}

	instanceType := types.InstanceType(typeFederated)
	if p.cfg.Decentralized() {
		instanceType = types.InstanceType(typeDecentralized)
	}

	out, err := p.EC2.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:           aws.String(imageID),
		InstanceType:      instanceType,
		MinCount:          aws.Int32(1),
		MaxCount:          aws.Int32(1),
		KeyName:           aws.String(p.cfg.Param(paramKeypair)),
		SubnetId:          aws.String(p.cfg.Param(paramSubnet)),
		SecurityGroupIds:  []string{p.cfg.Param(paramSecurityGroup)},
		TagSpecifications: nameTags(types.ResourceTypeInstance, nodeName),
	})
	if err != nil {
		return nil, wrapAPIErr("failed to launch instance", err)
	}
	instanceID := aws.ToString(out.Instances[0].InstanceId)

	p.em.Echof(emitter.ColorYellow, "waiting for instance %s (%s) to get a public address...", nodeName, instanceID)
	addr, err := p.waitForAddress(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	p.em.Echof(emitter.ColorGreen, "instance %s is up at %s", nodeName, addr)

	return &deploy.InstanceData{
		PublicAddress: addr,
		InstanceID:    instanceID,
		ProviderDeployAttrs: []deploy.DeployAttr{
			{Key: "default_user", Value: "ubuntu"},
			{Key: "ansible_ssh_private_key_file", Value: p.keypairPath()},
		},
	}, nil
}

func (p *Provider) waitForAddress(ctx context.Context, instanceID string) (string, error) {
	for {
		if err := p.pollLimiter.Wait(ctx); err != nil {
			return "", err
		}
		out, err := p.EC2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{instanceID},
		})
		if err != nil {
			return "", wrapAPIErr("failed to describe instance", err)
		}
		for _, res := range out.Reservations {
			for _, inst := range res.Instances {
				if addr := aws.ToString(inst.PublicIpAddress); addr != "" {
					return addr, nil
				}
			}
		}
	}
}

// DestroyNode terminates the instance behind a record.
func (p *Provider) DestroyNode(ctx context.Context, nodeName string, inst *deploy.InstanceData) error {
	p.em.Echof(emitter.ColorNone, "terminating instance for %s (%s)", nodeName, inst.InstanceID)
	_, err := p.EC2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{inst.InstanceID},
	})
	if err != nil {
		return wrapAPIErr("failed to terminate instance", err)
	}
	return nil
}

// Cleanup tears down the namespace's shared resources in dependency order.
// Terminated instances release their network interfaces slowly, so each
// step retries.
func (p *Provider) Cleanup(ctx context.Context) error {
	steps := []struct {
		param string
		run   func(id string) error
	}{
		{paramSecurityGroup, func(id string) error {
			_, err := p.EC2.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: aws.String(id)})
			return err
		}},
		{paramSubnet, func(id string) error {
			_, err := p.EC2.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: aws.String(id)})
			return err
		}},
		{paramRouteTable, func(id string) error {
			_, err := p.EC2.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{RouteTableId: aws.String(id)})
			return err
		}},
		{paramGateway, func(id string) error {
			if _, err := p.EC2.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
				InternetGatewayId: aws.String(id),
				VpcId:             aws.String(p.cfg.Param(paramVPC)),
			}); err != nil {
				return err
			}
			_, err := p.EC2.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{InternetGatewayId: aws.String(id)})
			return err
		}},
		{paramVPC, func(id string) error {
			_, err := p.EC2.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: aws.String(id)})
			return err
		}},
	}

	for _, step := range steps {
		id := p.cfg.Param(step.param)
		if id == "" {
			continue
		}
		if err := p.retry(ctx, func() error { return step.run(id) }); err != nil {
			return wrapAPIErr(fmt.Sprintf("failed to delete %s %s", step.param, id), err)
		}
		p.cfg.DeleteParam(step.param)
		if err := p.save(); err != nil {
			return err
		}
	}

	if name := p.cfg.Param(paramKeypair); name != "" {
		if _, err := p.EC2.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{KeyName: aws.String(name)}); err != nil {
			return wrapAPIErr("failed to delete keypair", err)
		}
		os.Remove(p.keypairPath())
		p.cfg.DeleteParam(paramKeypair)
	}
	p.cfg.DeleteParam(paramRegion)
	return p.save()
}

// retry runs fn until it succeeds or the attempts run out, pacing attempts
// with the poll limiter.
func (p *Provider) retry(ctx context.Context, fn func() error) error {
	const attempts = 10
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if waitErr := p.pollLimiter.Wait(ctx); waitErr != nil {
			return waitErr
		}
	}
	return err
}

func nameTags(resource types.ResourceType, name string) []types.TagSpecification {
	return []types.TagSpecification{{
		ResourceType: resource,
		Tags:         []types.Tag{{Key: aws.String("Name"), Value: aws.String(name)}},
	}}
}

func wrapAPIErr(msg string, err error) error {
	return opserrors.Wrap(opserrors.ErrCodeProvider, msg, err)
}
