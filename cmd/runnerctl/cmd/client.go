package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/bdobrica/lcsm/common/retry"
	"github.com/bdobrica/lcsm/internal/runner/rpc"
	"github.com/bdobrica/lcsm/internal/runner/transport"
	"github.com/bdobrica/lcsm/internal/runner/transport/tcp"
)

// connect dials the configured runner, retrying with backoff.
func connect(ctx context.Context) (*rpc.Client, error) {
	addr := viper.GetString("addr")
	backoff := retry.Backoff{
		Attempts: viper.GetInt("retries"),
		Base:     200 * time.Millisecond,
		Max:      2 * time.Second,
	}
	conn, err := retry.Value(ctx, backoff, func(ctx context.Context) (transport.Conn, error) {
		return tcp.Dial(ctx, addr)
	})
	if err != nil {
		return nil, fmt.Errorf("connect to runner %s: %w", addr, err)
	}
	opts := []rpc.ClientOption{}
	if timeout := viper.GetDuration("timeout"); timeout > 0 {
		opts = append(opts, rpc.WithTimeout(timeout))
	}
	return rpc.NewClient(conn, opts...), nil
}

// withClient connects, runs fn and closes the connection.
func withClient(ctx context.Context, fn func(c *rpc.Client) error) error {
	client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func parseID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid instance id %q", arg)
	}
	return id, nil
}
