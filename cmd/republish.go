package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fixly/ticket-service/internal/database"
	"github.com/fixly/ticket-service/internal/events"
	"github.com/fixly/ticket-service/internal/kafka"
	"github.com/fixly/ticket-service/internal/model"
	"github.com/fixly/ticket-service/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var republishBatch int

var republishCmd = &cobra.Command{
	Use:   "republish",
	Short: "Emit a ticket:snapshot event for every ticket to Kafka so consumers can rebuild their state",
	RunE:  runRepublish,
}

func init() {
	republishCmd.Flags().IntVar(&republishBatch, "batch", 200, "tickets loaded per query")
}

func runRepublish(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	producer := kafka.NewProducer(kafka.ParseBrokers(cfg.Kafka.Brokers), cfg.Kafka.TopicTicket)
	if !producer.Enabled() {
		return errors.New("republish: KAFKA_BROKERS is not set")
	}
	defer producer.Close()

	db, err := database.Open(cfg.DSN(), database.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer database.Close(db)

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
	defer cancel()

	sent := 0
	repo := repository.New(db)
	err = repo.EachTicketBatch(ctx, republishBatch, func(batch []model.Ticket) error {
		for i := range batch {
			t := &batch[i]
			ev := events.Event{
				Channel:    events.OrgChannel(t.OrganizationID),
				Name:       events.TicketSnapshot,
				Payload:    t,
				OccurredAt: time.Now().UTC(),
			}
			if err := producer.Send(ctx, ev); err != nil {
				return err
			}
		}
		sent += len(batch)
		log.Info("republish: progress", zap.Int("sent", sent))
		return nil
	})
	if err != nil {
		return fmt.Errorf("republish: %w", err)
	}
	log.Info("republish: done", zap.Int("tickets", sent))
	return nil
}
