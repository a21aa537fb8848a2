package dblayer

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	googleopt "google.golang.org/api/option"
)

// Config selects and configures a backend.  Binaries fill it from flags.
type Config struct {
	// "firestore", "badger" or "memory".
	Backend string

	// GCP project holding the Firestore database.
	DataProject string

	// Optional service account key; Application Default Credentials are used
	// when empty.
	CredentialsFile string

	// Directory of the Badger database.
	BadgerDir string
}

func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "firestore", "":
		var opts []googleopt.ClientOption
		if cfg.CredentialsFile != "" {
			opts = append(opts, googleopt.WithCredentialsFile(cfg.CredentialsFile))
		}
		client, err := firestore.NewClient(ctx, cfg.DataProject, opts...)
		if err != nil {
			return nil, fmt.Errorf("while creating FireStore client: %w", err)
		}
		return NewFirestoreStore(client), nil
	case "badger":
		if cfg.BadgerDir == "" {
			return nil, fmt.Errorf("badger backend needs a data directory")
		}
		s, err := NewBadgerStore(cfg.BadgerDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
