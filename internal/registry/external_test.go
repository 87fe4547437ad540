package registry

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// The postgres and mongo suites need a running server and are skipped unless
// the corresponding environment variable points at one.

func TestPostgresRegistry(t *testing.T) {
	dsn := os.Getenv("MCPSTUDIO_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MCPSTUDIO_TEST_POSTGRES_DSN not set")
	}
	runRegistrySuite(t, func(t *testing.T) Registry {
		r, err := NewPostgresRegistry(context.Background(), dsn)
		require.NoError(t, err)
		sqlr := r.(*sqlRegistry)
		for _, table := range []string{"tools", "resources", "prompts", "executions", "credentials", "servers"} {
			_, err := sqlr.db.Exec("DELETE FROM " + table)
			require.NoError(t, err)
		}
		t.Cleanup(func() { _ = r.Close() })
		return r
	})
}

func TestMongoRegistry(t *testing.T) {
	uri := os.Getenv("MCPSTUDIO_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("MCPSTUDIO_TEST_MONGO_URI not set")
	}
	runRegistrySuite(t, func(t *testing.T) Registry {
		db := fmt.Sprintf("mcpstudio_test_%d", time.Now().UnixNano())
		r, err := NewMongoRegistry(context.Background(), MongoConfig{URI: uri, Database: db})
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = r.client.Database(db).Drop(context.Background())
			_ = r.Close()
		})
		return r
	})
}
