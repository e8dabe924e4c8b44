package storage

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo/portal/core"
	"github.com/trezcool/masomo/portal/core/session"
	"github.com/trezcool/masomo/portal/storage/database"
	inmemdb "github.com/trezcool/masomo/portal/storage/database/inmem"
	sqlxstore "github.com/trezcool/masomo/portal/storage/database/sqlx"
	filestore "github.com/trezcool/masomo/portal/storage/file"
	redisstore "github.com/trezcool/masomo/portal/storage/redis"
)

var (
	_ session.Storage = (*inmemdb.Storage)(nil)
	_ session.Storage = (*filestore.Storage)(nil)
	_ session.Storage = (*redisstore.Storage)(nil)
	_ session.Storage = (*sqlxstore.Storage)(nil)
)

// Open returns the durable session storage selected by conf.Storage.Driver.
// The returned close func releases any connection held by the storage.
func Open(ctx context.Context, conf *core.Config) (session.Storage, func() error, error) {
	noop := func() error { return nil }

	switch conf.Storage.Driver {
	case core.StorageMemory:
		return inmemdb.Open(), noop, nil

	case core.StorageFile:
		s, err := filestore.Open(conf.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil

	case core.StorageRedis:
		client, err := redisstore.Open(ctx, conf.Storage.RedisAddr, conf.Storage.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return redisstore.NewStorage(client, conf.Storage.KeyPrefix), client.Close, nil

	case core.StoragePostgres:
		db, err := database.Open(ctx, conf)
		if err != nil {
			return nil, nil, err
		}
		if err = database.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return sqlxstore.NewStorage(db, conf.Storage.KeyPrefix), db.Close, nil

	default:
		return nil, nil, errors.Errorf("unknown storage driver %q", conf.Storage.Driver)
	}
}
