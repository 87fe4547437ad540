package registry

import (
	"context"
	"fmt"
)

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Options selects and configures a backend.
type Options struct {
	Driver string
	// Path is the sqlite database file.
	Path string
	// DSN is the postgres connection string.
	DSN string
	// MongoURI and MongoDatabase configure the mongo backend.
	MongoURI      string
	MongoDatabase string
}

// Open creates the registry backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Registry, error) {
	switch opts.Driver {
	case DriverMemory:
		return NewMemoryRegistry(), nil
	case DriverSQLite, "":
		if opts.Path == "" {
			return nil, fmt.Errorf("sqlite registry requires a path")
		}
		return NewSQLiteRegistry(ctx, opts.Path)
	case DriverPostgres:
		if opts.DSN == "" {
			return nil, fmt.Errorf("postgres registry requires a dsn")
		}
		return NewPostgresRegistry(ctx, opts.DSN)
	case DriverMongo:
		return NewMongoRegistry(ctx, MongoConfig{URI: opts.MongoURI, Database: opts.MongoDatabase})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}
