package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/deusflow/newsprefs/internal/retry"
)

type ValkeyOptions struct {
	InitAddress string
	Password    string
	TLS         bool
	DB          int
	// TTL expires a user's whole view set after the last write; zero keeps it.
	TTL time.Duration
}

// ValkeyHistory keeps one set of viewed news ids per user.
type ValkeyHistory struct {
	client valkey.Client
	ttl    time.Duration
	retry  retry.Config
	logger *slog.Logger
}

const valkeyViewKeyPrefix = "newsprefs:viewed:"

func NewValkeyHistory(ctx context.Context, opts ValkeyOptions, logger *slog.Logger) (*ValkeyHistory, error) {
	clientOpts := valkey.ClientOption{
		InitAddress:      []string{opts.InitAddress},
		Password:         opts.Password,
		ConnWriteTimeout: 5 * time.Second,
		SelectDB:         opts.DB,
	}
	if opts.TLS {
		clientOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client, err := valkey.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("[Valkey] failed to create client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Do(pingCtx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("[Valkey] failed to ping: %w", err)
	}

	logger.Info("[Valkey] connected", "address", opts.InitAddress)
	return &ValkeyHistory{
		client: client,
		ttl:    opts.TTL,
		retry: retry.Config{
			MaxAttempts: 3,
			Delay:       250 * time.Millisecond,
			Retryable:   isValkeyConnectionError,
		},
		logger: logger,
	}, nil
}

func viewKey(userID string) string {
	return valkeyViewKeyPrefix + userID
}

func (v *ValkeyHistory) do(ctx context.Context, cmd valkey.Completed) valkey.ValkeyResult {
	var res valkey.ValkeyResult
	_ = retry.WithRetry(ctx, v.retry, func() error {
		res = v.client.Do(ctx, cmd)
		if err := res.Error(); err != nil && !valkey.IsValkeyNil(err) {
			v.logger.Warn("[Valkey] command failed", "error", err)
			return err
		}
		return nil
	})
	return res
}

func (v *ValkeyHistory) HasViewed(ctx context.Context, userID, newsID string) (bool, error) {
	res := v.do(ctx, v.client.B().Sismember().Key(viewKey(userID)).Member(newsID).Build())
	ok, err := res.AsBool()
	if err != nil {
		return false, fmt.Errorf("[Valkey] sismember: %w", err)
	}
	return ok, nil
}

func (v *ValkeyHistory) MarkViewed(ctx context.Context, userID, newsID string) error {
	key := viewKey(userID)
	cmds := valkey.Commands{v.client.B().Sadd().Key(key).Member(newsID).Build()}
	if v.ttl > 0 {
		cmds = append(cmds, v.client.B().Expire().Key(key).Seconds(int64(v.ttl.Seconds())).Build())
	}

	return retry.WithRetry(ctx, v.retry, func() error {
		for _, res := range v.client.DoMulti(ctx, cmds...) {
			if err := res.Error(); err != nil {
				return fmt.Errorf("[Valkey] mark viewed: %w", err)
			}
		}
		return nil
	})
}

func (v *ValkeyHistory) ClearHistory(ctx context.Context, userID string) error {
	if err := v.do(ctx, v.client.B().Del().Key(viewKey(userID)).Build()).Error(); err != nil {
		return fmt.Errorf("[Valkey] del: %w", err)
	}
	return nil
}

func (v *ValkeyHistory) ViewCount(ctx context.Context, userID string) (int, error) {
	n, err := v.do(ctx, v.client.B().Scard().Key(viewKey(userID)).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("[Valkey] scard: %w", err)
	}
	return int(n), nil
}

func (v *ValkeyHistory) Close() error {
	v.client.Close()
	return nil
}

func isValkeyConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "i/o timeout")
}
