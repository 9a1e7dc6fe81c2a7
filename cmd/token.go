package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/Gopher0727/Warden/config"
	wgrpc "github.com/Gopher0727/Warden/internal/pkg/grpc"
)

var tokenCheckOpts struct {
	addr    string
	timeout time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Access token utilities",
}

var tokenCheckCmd = &cobra.Command{
	Use:   "check <access-token>",
	Short: "Validate an access token against a running server's gRPC endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := tokenCheckOpts.addr
		if addr == "" {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if !cfg.GRPC.Enabled {
				return fmt.Errorf("grpc is not enabled in the config, pass --addr")
			}
			addr = cfg.GRPC.Address
		}

		conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return err
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), tokenCheckOpts.timeout)
		defer cancel()
		return checkToken(ctx, wgrpc.NewTokenClient(conn), args[0], cmd.OutOrStdout())
	},
}

// checkToken 打印令牌中的声明; 无效令牌返回服务端给出的原因
func checkToken(ctx context.Context, client *wgrpc.TokenClient, token string, w io.Writer) error {
	claims, err := client.ValidateAccessToken(ctx, token)
	if err != nil {
		if st, ok := status.FromError(err); ok {
			return fmt.Errorf("%s: %s", st.Code(), st.Message())
		}
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(claims.AsMap())
}

func init() {
	tokenCheckCmd.Flags().StringVar(&tokenCheckOpts.addr, "addr", "", "gRPC address, defaults to grpc.address from the config")
	tokenCheckCmd.Flags().DurationVar(&tokenCheckOpts.timeout, "timeout", 5*time.Second, "request timeout")
	tokenCmd.AddCommand(tokenCheckCmd)
}
