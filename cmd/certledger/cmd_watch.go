package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/felixgeelhaar/certledger/internal/config"
	"github.com/felixgeelhaar/certledger/internal/queue"
)

// cmdWatch prints registry events as they arrive on the broker
func cmdWatch() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	conn, err := queue.NewConnectionForQueue(cfg.Events.RabbitMQURL, cfg.Events.Queue)
	if err != nil {
		return fmt.Errorf("connect rabbitmq: %w", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer := queue.NewConsumer(conn, func(_ context.Context, env queue.Envelope) error {
		printEvent(os.Stdout, env)
		return nil
	}, queue.DefaultConsumerConfig())
	if err := consumer.Start(ctx); err != nil {
		return err
	}

	fmt.Printf("Watching %s (Ctrl-C to stop)\n", conn.Queue())
	<-ctx.Done()
	consumer.Stop()
	return nil
}

func printEvent(w io.Writer, env queue.Envelope) {
	fmt.Fprintf(w, "%s %s %s %s\n",
		env.OccurredAt.Local().Format("15:04:05"),
		color.CyanString("%-22s", env.Type),
		env.Aggregate,
		string(env.Payload),
	)
}
