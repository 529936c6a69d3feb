package obsidian

import (
	"context"
	"strings"

	"github.com/dpup/obsidian/errors"
	"github.com/dpup/obsidian/logging"
	"github.com/dpup/obsidian/storage"
	"github.com/dpup/obsidian/storage/memorystore"
	"github.com/dpup/obsidian/storage/postgres"
	"github.com/dpup/obsidian/storage/sqlitestore"
	"google.golang.org/grpc/codes"
)

// ErrUnknownStorageDriver is returned when storage.driver names no store.
var ErrUnknownStorageDriver = errors.NewC("obsidian: unknown storage driver", codes.InvalidArgument)

const defaultSQLiteFile = "obsidian.db"

// openStore creates the store named by storage.driver.
func openStore(ctx context.Context) (storage.Store, error) {
	driver := strings.ToLower(Config.String("storage.driver"))
	dsn := Config.String("storage.dsn")
	prefix := Config.String("storage.prefix")

	logging.Infow(ctx, "obsidian: opening store", "storage.driver", driver)
	switch driver {
	case "", "memory":
		return memorystore.New(), nil
	case "sqlite", "sqlite3":
		if dsn == "" {
			dsn = defaultSQLiteFile
		}
		return sqlitestore.SafeNew(dsn, sqlitestore.WithPrefix(prefix))
	case "postgres", "postgresql":
		return postgres.SafeNew(dsn,
			postgres.WithPrefix(prefix),
			postgres.WithSchema(Config.String("storage.schema")),
		)
	}
	return nil, errors.Errorf("%w %q", ErrUnknownStorageDriver, driver).WithCode(codes.InvalidArgument)
}
