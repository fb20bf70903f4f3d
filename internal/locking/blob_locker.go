package locking

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/lease"
	"github.com/hashicorp/go-hclog"

	"github.com/katasec/dstream-sync/internal/logging"
)

// DefaultLeaseDuration is the blob lease length. Azure accepts 15 to 60 seconds.
const DefaultLeaseDuration = 60 * time.Second

// BlobLocker holds a table lease as an Azure blob lease on an empty blob.
// A crashed owner stops renewing and the lease expires on its own.
type BlobLocker struct {
	containerName string
	lockTTL       time.Duration
	lockName      string

	blobLeaseClient *lease.BlobClient
	log             hclog.Logger
}

// NewBlobLocker ensures the container and lock blob exist.
func NewBlobLocker(ctx context.Context, connectionString, containerName, lockName string) (*BlobLocker, error) {
	azblobClient, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}
	_, err = azblobClient.CreateContainer(ctx, containerName, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil, fmt.Errorf("failed to create or check container: %w", err)
	}

	blockblobClient, err := blockblob.NewClientFromConnectionString(connectionString, containerName, lockName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create block blob client: %w", err)
	}
	// Uploading over a leased blob fails with LeaseIDMissing; the blob exists then.
	_, err = blockblobClient.UploadBuffer(ctx, []byte{}, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.LeaseIDMissing) {
		return nil, fmt.Errorf("failed to ensure blob exists: %w", err)
	}

	blobLeaseClient, err := lease.NewBlobClient(blockblobClient, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob lease client: %w", err)
	}

	return &BlobLocker{
		containerName:   containerName,
		lockTTL:         DefaultLeaseDuration,
		lockName:        lockName,
		blobLeaseClient: blobLeaseClient,
		log:             logging.Named("lock").With("lock", lockName),
	}, nil
}

// AcquireLock tries to acquire a lease on the blob.
func (bl *BlobLocker) AcquireLock(ctx context.Context) (string, error) {
	bl.log.Debug("Attempting to acquire lock", "container", bl.containerName)

	resp, err := bl.blobLeaseClient.AcquireLease(ctx, int32(bl.lockTTL.Seconds()), nil)
	if bloberror.HasCode(err, bloberror.LeaseAlreadyPresent) {
		bl.log.Info("Lock is held by another owner, skipping")
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to acquire lock for blob %s: %w", bl.lockName, err)
	}

	bl.log.Info("Lock acquired", "lease_id", *resp.LeaseID)
	return *resp.LeaseID, nil
}

func (bl *BlobLocker) RenewLock(ctx context.Context) error {
	if _, err := bl.blobLeaseClient.RenewLease(ctx, nil); err != nil {
		return fmt.Errorf("failed to renew lock for blob %s: %w", bl.lockName, err)
	}
	bl.log.Trace("Lock renewed")
	return nil
}

// ReleaseLock releases the lease. The lease client already carries leaseID.
func (bl *BlobLocker) ReleaseLock(ctx context.Context, leaseID string) error {
	if _, err := bl.blobLeaseClient.ReleaseLease(ctx, nil); err != nil {
		return fmt.Errorf("failed to release lock for blob %s: %w", bl.lockName, err)
	}
	bl.log.Info("Lock released", "lease_id", leaseID)
	return nil
}

// StartLockRenewal renews at half the lease duration until ctx is done.
func (bl *BlobLocker) StartLockRenewal(ctx context.Context, lost context.CancelCauseFunc) {
	KeepAlive(ctx, bl, bl.lockTTL/2, lost, bl.log)
}

// GetBlobLockName returns the blob name for a lock key
func GetBlobLockName(key string) string {
	return key + ".lock"
}
