package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lightsail"
	"github.com/aws/aws-sdk-go-v2/service/lightsail/types"

	"github.com/HatiCode/snaprotate/pkg/snapshot"
)

// LightsailAPI is the subset of the Lightsail client used by LightsailStore.
type LightsailAPI interface {
	GetInstances(ctx context.Context, in *lightsail.GetInstancesInput, optFns ...func(*lightsail.Options)) (*lightsail.GetInstancesOutput, error)
	GetInstanceSnapshots(ctx context.Context, in *lightsail.GetInstanceSnapshotsInput, optFns ...func(*lightsail.Options)) (*lightsail.GetInstanceSnapshotsOutput, error)
	CreateInstanceSnapshot(ctx context.Context, in *lightsail.CreateInstanceSnapshotInput, optFns ...func(*lightsail.Options)) (*lightsail.CreateInstanceSnapshotOutput, error)
	DeleteInstanceSnapshot(ctx context.Context, in *lightsail.DeleteInstanceSnapshotInput, optFns ...func(*lightsail.Options)) (*lightsail.DeleteInstanceSnapshotOutput, error)
}

// LightsailStore manages AWS Lightsail instance snapshots.
type LightsailStore struct {
	client LightsailAPI
	region string
}

// NewLightsailStore creates a store backed by the given client.
func NewLightsailStore(client LightsailAPI, region string) *LightsailStore {
	return &LightsailStore{client: client, region: region}
}

// NewLightsailStoreFromEnv loads AWS configuration from the default chain
// (environment, shared config, instance role). An empty region leaves region
// resolution to the SDK.
func NewLightsailStoreFromEnv(ctx context.Context, region string) (*LightsailStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewLightsailStore(lightsail.NewFromConfig(cfg), cfg.Region), nil
}

func (l *LightsailStore) Name() string { return "lightsail" }

// Region returns the resolved AWS region.
func (l *LightsailStore) Region() string { return l.region }

// ListInstancesPage implements Store.
func (l *LightsailStore) ListInstancesPage(ctx context.Context, pageToken string) (InstancePage, error) {
	out, err := l.client.GetInstances(ctx, &lightsail.GetInstancesInput{
		PageToken: optionalString(pageToken),
	})
	if err != nil {
		return InstancePage{}, classifyLightsail(fmt.Errorf("lightsail get instances: %w", err))
	}

	names := make([]string, 0, len(out.Instances))
	for _, inst := range out.Instances {
		if name := aws.ToString(inst.Name); name != "" {
			names = append(names, name)
		}
	}

	return InstancePage{
		Instances:     names,
		NextPageToken: aws.ToString(out.NextPageToken),
	}, nil
}

// ListSnapshotsPage implements Store. Snapshots without a creation time are
// omitted.
func (l *LightsailStore) ListSnapshotsPage(ctx context.Context, pageToken string) (SnapshotPage, error) {
	out, err := l.client.GetInstanceSnapshots(ctx, &lightsail.GetInstanceSnapshotsInput{
		PageToken: optionalString(pageToken),
	})
	if err != nil {
		return SnapshotPage{}, classifyLightsail(fmt.Errorf("lightsail get instance snapshots: %w", err))
	}

	snaps := make([]snapshot.Snapshot, 0, len(out.InstanceSnapshots))
	for _, s := range out.InstanceSnapshots {
		// No creation time means no age, so the policy cannot judge it.
		// Leaving it out keeps it.
		if s.CreatedAt == nil {
			continue
		}
		snaps = append(snaps, snapshot.Snapshot{
			Name:      aws.ToString(s.Name),
			Instance:  aws.ToString(s.FromInstanceName),
			CreatedAt: aws.ToTime(s.CreatedAt),
		})
	}

	return SnapshotPage{
		Snapshots:     snaps,
		NextPageToken: aws.ToString(out.NextPageToken),
	}, nil
}

// CreateSnapshot implements Store.
func (l *LightsailStore) CreateSnapshot(ctx context.Context, instanceName, snapshotName string) error {
	_, err := l.client.CreateInstanceSnapshot(ctx, &lightsail.CreateInstanceSnapshotInput{
		InstanceName:         aws.String(instanceName),
		InstanceSnapshotName: aws.String(snapshotName),
	})
	if err != nil {
		var invalid *types.InvalidInputException
		if errors.As(err, &invalid) && strings.Contains(strings.ToLower(invalid.ErrorMessage()), "already") {
			err = fmt.Errorf("%w: %w", ErrAlreadyExists, err)
		}
		return classifyLightsail(fmt.Errorf("lightsail create instance snapshot %s: %w", snapshotName, err))
	}
	return nil
}

// DeleteSnapshot implements Store.
func (l *LightsailStore) DeleteSnapshot(ctx context.Context, snapshotName string) error {
	_, err := l.client.DeleteInstanceSnapshot(ctx, &lightsail.DeleteInstanceSnapshotInput{
		InstanceSnapshotName: aws.String(snapshotName),
	})
	if err != nil {
		return classifyLightsail(fmt.Errorf("lightsail delete instance snapshot %s: %w", snapshotName, err))
	}
	return nil
}

// classifyLightsail marks client-side failures as permanent. Throttling and
// service faults stay retryable.
func classifyLightsail(err error) error {
	var (
		invalid  *types.InvalidInputException
		notFound *types.NotFoundException
		denied   *types.AccessDeniedException
		unauth   *types.UnauthenticatedException
	)
	switch {
	case errors.As(err, &invalid), errors.As(err, &notFound),
		errors.As(err, &denied), errors.As(err, &unauth):
		return Permanent(err)
	default:
		return err
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
