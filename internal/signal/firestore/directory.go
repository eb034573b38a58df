package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Directory implements signal.Directory: a participant owns a partition
// iff a document with its id exists in the partitions collection.
type Directory struct {
	client *firestore.Client
}

// FindPartitionOwner implements signal.Directory.
func (d *Directory) FindPartitionOwner(ctx context.Context, participantID string) (string, bool, error) {
	_, err := d.client.Collection(collPartitions).Doc(participantID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("looking up partition %q: %w", participantID, err)
	}
	return participantID, true, nil
}

// ListPartitionOwners implements signal.Directory.
func (d *Directory) ListPartitionOwners(ctx context.Context) ([]string, error) {
	var owners []string
	refs := d.client.Collection(collPartitions).DocumentRefs(ctx)
	for {
		ref, err := refs.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing partitions: %w", err)
		}
		owners = append(owners, ref.ID)
	}
	return owners, nil
}
