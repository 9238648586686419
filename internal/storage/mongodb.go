package storage

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// OpenMongoDB connects to url and selects database, "genrouter" when empty.
func OpenMongoDB(ctx context.Context, url, database string) (*DB, error) {
	if url == "" {
		return nil, fmt.Errorf("storage.mongodb.url is required")
	}
	if database == "" {
		database = defaultMongoDatabase
	}

	client, err := mongo.Connect(options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return &DB{backend: BackendMongoDB, client: client, database: client.Database(database)}, nil
}
