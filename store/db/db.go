package db

import (
	"github.com/pkg/errors"

	"github.com/papertalk/papertalk/internal/profile"
	"github.com/papertalk/papertalk/store"
	"github.com/papertalk/papertalk/store/db/postgres"
	"github.com/papertalk/papertalk/store/db/sqlite"
)

// NewDBDriver creates new db driver based on profile.
//
// SQLite is the default driver for local, single-user deployments.
// PostgreSQL is supported for shared deployments.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.New("unknown db driver: only 'sqlite' and 'postgres' are supported")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
