package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/streadway/amqp"

	"airlock.evalgo.org/common"
	"airlock.evalgo.org/events"
)

func init() {
	RootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsListenCmd)
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "work with lifecycle events",
}

var eventsListenCmd = &cobra.Command{
	Use:   "listen",
	Short: "consume lifecycle events from the queue",
	Long: `Attaches to the configured AMQP queue and prints each lifecycle
event as it arrives. Useful for watching a deployment live and for
debugging downstream notification consumers. Messages are acked after
printing, so a listener left running will drain the queue.`,
	RunE: runEventsListen,
}

func runEventsListen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Events.AMQPURL == "" {
		return validationErrorf("events.amqp_url is not configured")
	}

	conn, err := amqp.Dial(cfg.Events.AMQPURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	defer ch.Close()

	// Same declaration as the publishing side, so listening first is fine.
	if _, err := ch.QueueDeclare(cfg.Events.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	deliveries, err := ch.Consume(cfg.Events.Queue, "airlock-cli", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	common.Logger.WithField("queue", cfg.Events.Queue).Info("listening for lifecycle events")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	out := cmd.OutOrStdout()
	for {
		select {
		case <-quit:
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("event channel closed")
			}
			printEvent(out, delivery.Body)
			if err := delivery.Ack(false); err != nil {
				common.Logger.WithError(err).Warn("failed to ack event")
			}
		}
	}
}

func printEvent(out io.Writer, body []byte) {
	var event events.Event
	if err := json.Unmarshal(body, &event); err != nil {
		fmt.Fprintf(out, "unparseable event: %s\n", body)
		return
	}
	line := fmt.Sprintf("%s  %-28s request=%s workspace=%s actor=%s turn=%d",
		event.Timestamp.Format("2006-01-02 15:04:05"), event.Name,
		event.RequestID, event.Workspace, event.Actor, event.Turn)
	line += formatExtra(event.Extra)
	fmt.Fprintln(out, line)
}
