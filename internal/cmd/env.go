package cmd

import (
	"fmt"

	"github.com/spf13/viper"

	"wpmig-cli/internal/migration"
	"wpmig-cli/internal/storage"
	"wpmig-cli/internal/store"
	"wpmig-cli/internal/wpcli"
)

// buildDeps wires the pipeline against the installation the config
// points at. The returned store must be closed by the caller.
func buildDeps() (*migration.Deps, *store.MySQL, error) {
	dsn := viper.GetString("db.dsn")
	if dsn == "" {
		return nil, nil, fmt.Errorf("db.dsn is not configured (config file, env or .env)")
	}

	st, err := store.Open(dsn, viper.GetString("base_prefix"))
	if err != nil {
		return nil, nil, err
	}

	runner := wpcli.NewCLI(
		viper.GetString("wp.bin"),
		viper.GetString("wp.path"),
		viper.GetBool("wp.allow_root"),
	)

	deps := &migration.Deps{
		Store:      st,
		Runner:     runner,
		ContentDir: viper.GetString("wp.content_dir"),
		Multisite:  viper.GetBool("multisite"),
	}
	return deps, st, nil
}

// buildUploader constructs the object storage client from the minio.*
// config keys.
func buildUploader() (*storage.Uploader, error) {
	return storage.NewUploader(storage.Config{
		Endpoint:  viper.GetString("minio.endpoint"),
		AccessKey: viper.GetString("minio.access_key"),
		SecretKey: viper.GetString("minio.secret_key"),
		UseSSL:    viper.GetBool("minio.use_ssl"),
		Bucket:    viper.GetString("minio.bucket"),
		Prefix:    viper.GetString("minio.prefix"),
	})
}
