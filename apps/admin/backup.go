package main

import (
	"context"
	"fmt"

	"github.com/roxnlabs/mentora/core"
	"github.com/roxnlabs/mentora/services/backup"
)

// mockable
var newUploaderFunc = func(ctx context.Context, bucket string) (backup.Uploader, func() error, error) {
	u, err := backup.NewGCSUploader(ctx, bucket)
	if err != nil {
		return nil, nil, err
	}
	return u, u.Close, nil
}

// newBackupManager uploads new archives to BACKUP_GCS_BUCKET when it is set.
// The returned func releases the uploader.
func newBackupManager(ctx context.Context, conf *core.Config, logger core.Logger) (*backup.Manager, func()) {
	var uploader backup.Uploader
	release := func() {}

	if conf.Backup.GCSBucket != "" {
		u, closeFn, err := newUploaderFunc(ctx, conf.Backup.GCSBucket)
		if err != nil {
			logger.Error(fmt.Sprintf("creating GCS uploader: %v", err), err)
		} else {
			uploader = u
			release = func() { _ = closeFn() }
		}
	}
	return backup.NewManager(conf, uploader, nil, logger), release
}
