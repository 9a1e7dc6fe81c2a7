package main

import (
	"context"
	"encoding/json"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Gopher0727/Warden/config"
	logger "github.com/Gopher0727/Warden/middleware/log"
	"github.com/Gopher0727/Warden/pkg/mq"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect audit events",
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Consume the audit topic and print each event as a JSON line",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if !cfg.Kafka.Enabled {
			return errors.New("kafka is not enabled in the config")
		}
		log, err := logger.NewLogger(&cfg.Logging)
		if err != nil {
			return err
		}
		defer log.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		enc := json.NewEncoder(cmd.OutOrStdout())
		consumer, err := mq.NewConsumer(&cfg.Kafka, func(_ context.Context, e mq.Event) error {
			return enc.Encode(e)
		}, log.Named("audit"))
		if err != nil {
			return err
		}
		consumer.Start(ctx)
		log.Info("tailing audit events", zap.String("topic", cfg.Kafka.Topic), zap.String("group", cfg.Kafka.GroupID))

		<-ctx.Done()
		return consumer.Stop()
	},
}

func init() {
	auditCmd.AddCommand(auditTailCmd)
}
