// Package firestore backs the signaling mailbox and directory with Google
// Cloud Firestore. Sessions live under partitions/{owner}/sessions/{id},
// candidates under a candidates subcollection of each session; real-time
// delivery uses Firestore snapshot listeners, whose initial snapshot gives
// the replay-from-start semantics the signaling layer requires.
package firestore

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// Collection names within the Firestore database.
const (
	collPartitions = "partitions"
	collSessions   = "sessions"
	collCandidates = "candidates"
)

// Config selects the Firestore project and credentials.
type Config struct {
	// ProjectID is the GCP project. If empty, the firebase SDK resolves it
	// from the credentials or environment.
	ProjectID string

	// CredentialsFile is a service-account JSON file. If empty, the SDK
	// falls back to GOOGLE_APPLICATION_CREDENTIALS or the default service
	// account.
	CredentialsFile string
}

// Store bundles the Firestore-backed Mailbox and Directory over one client.
type Store struct {
	client *firestore.Client
	logger *slog.Logger
}

// NewStore initialises a firebase app and opens its Firestore client.
func NewStore(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	var fbCfg *firebase.Config
	if cfg.ProjectID != "" {
		fbCfg = &firebase.Config{ProjectID: cfg.ProjectID}
	}

	app, err := firebase.NewApp(ctx, fbCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening firestore client: %w", err)
	}

	logger = logger.With("subsystem", "mailbox-firestore")
	logger.Info("firestore mailbox ready", "project", cfg.ProjectID)
	return &Store{client: client, logger: logger}, nil
}

// Mailbox returns the Firestore-backed mailbox.
func (s *Store) Mailbox() *Mailbox {
	return &Mailbox{client: s.client, logger: s.logger}
}

// Directory returns the Firestore-backed directory.
func (s *Store) Directory() *Directory {
	return &Directory{client: s.client}
}

// Close releases the underlying Firestore client.
func (s *Store) Close() error {
	return s.client.Close()
}

// sessionsColl returns the sessions collection of a partition.
func sessionsColl(client *firestore.Client, partitionOwner string) *firestore.CollectionRef {
	return client.Collection(collPartitions).Doc(partitionOwner).Collection(collSessions)
}
