package firebase

import (
	"context"
	"fmt"
	"os"

	fb "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"hudhud.im.sync/internal/config"
)

// NewApp 按配置初始化 Firebase 应用
// 优先使用 FIREBASE_SERVICE_ACCOUNT_JSON，其次使用配置中的凭据文件，都没有时走默认凭据
func NewApp(ctx context.Context, cfg config.FirebaseConfig) (*fb.App, error) {
	var opts []option.ClientOption
	if saJSON := os.Getenv("FIREBASE_SERVICE_ACCOUNT_JSON"); saJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(saJSON)))
	} else if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("firebase credentials %q not readable: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := fb.NewApp(ctx, &fb.Config{
		ProjectID:     cfg.ProjectID,
		StorageBucket: cfg.StorageBucket,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase init: %w", err)
	}
	return app, nil
}
