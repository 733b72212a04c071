package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/example/message-router/internal/common"
	"github.com/example/message-router/internal/queue"
	"github.com/example/message-router/internal/worker"
)

type broker interface {
	Publish(ctx context.Context, destination string, payload queue.Payload, opts ...queue.Option) (queue.Receipt, error)
	GetStatus(ctx context.Context, messageID string) (queue.MessageStatus, error)
}

// app resolves clients lazily so each command only connects to what it uses.
// Tests set the fields directly.
type app struct {
	cfg    *common.Config
	logger zerolog.Logger
	broker broker
	jobs   *queue.Queue
	close  func()
}

func (a *app) config() (*common.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := common.LoadConfig("queuectl")
	if err != nil {
		return nil, err
	}
	a.cfg = cfg
	a.logger = common.NewLogger(cfg.ServiceName, cfg.LogLevel)
	return cfg, nil
}

func (a *app) qstash() (broker, error) {
	if a.broker != nil {
		return a.broker, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	qs := queue.NewQStashFromConfig(cfg, a.logger)
	if qs == nil {
		return nil, errors.New("QSTASH_TOKEN is not configured")
	}
	a.broker = qs
	return qs, nil
}

func (a *app) queue(ctx context.Context) (*queue.Queue, error) {
	if a.jobs != nil {
		return a.jobs, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	if !cfg.QueueEnabled() {
		return nil, errors.New("VALKEY_ADDR is not configured")
	}
	jobs, closeStore, err := queue.NewQueueFromConfig(ctx, cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.jobs, a.close = jobs, closeStore
	return jobs, nil
}

func (a *app) shutdown() {
	if a.close != nil {
		a.close()
	}
}

type payloadFlags struct {
	message      string
	userID       string
	phone        string
	conversation string
	delay        time.Duration
	retries      int
}

func (f *payloadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.message, "message", "", "message text")
	cmd.Flags().StringVar(&f.userID, "user", "", "user id")
	cmd.Flags().StringVar(&f.phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&f.conversation, "conversation", "", "conversation id")
	cmd.Flags().DurationVar(&f.delay, "delay", 0, "delivery delay")
	cmd.Flags().IntVar(&f.retries, "retries", queue.DefaultRetries, "retry budget")
}

func (f *payloadFlags) payload() (queue.Payload, error) {
	p := queue.Payload{
		Message:     f.message,
		UserID:      f.userID,
		PhoneNumber: f.phone,
		Context:     queue.PayloadContext{ConversationID: f.conversation},
	}
	return p, p.Validate()
}

func (f *payloadFlags) options() []queue.Option {
	return []queue.Option{queue.WithDelay(f.delay), queue.WithRetries(f.retries)}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "queuectl",
		Short:         "Inspect and operate the message queues",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		publishCmd(a),
		statusCmd(a),
		enqueueCmd(a),
		sizeCmd(a),
		drainCmd(a),
		clearCmd(a),
	)
	return root
}

func publishCmd(a *app) *cobra.Command {
	var flags payloadFlags
	var callback string
	cmd := &cobra.Command{
		Use:   "publish <destination>",
		Short: "Publish a payload through QStash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := flags.payload()
			if err != nil {
				return err
			}
			qs, err := a.qstash()
			if err != nil {
				return err
			}
			opts := flags.options()
			if callback != "" {
				opts = append(opts, queue.WithCallback(callback))
			}
			receipt, err := qs.Publish(cmd.Context(), args[0], p, opts...)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), receipt)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&callback, "callback", "", "delivery callback url")
	return cmd
}

func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <message-id>",
		Short: "Show the broker status of a published message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qs, err := a.qstash()
			if err != nil {
				return err
			}
			status, err := qs.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}

func enqueueCmd(a *app) *cobra.Command {
	var flags payloadFlags
	cmd := &cobra.Command{
		Use:   "enqueue <destination>",
		Short: "Add a job to the local queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := flags.payload()
			if err != nil {
				return err
			}
			jobs, err := a.queue(cmd.Context())
			if err != nil {
				return err
			}
			id, err := jobs.Enqueue(cmd.Context(), args[0], p, flags.options()...)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"jobId": id})
		},
	}
	flags.register(cmd)
	return cmd
}

func sizeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "size",
		Short: "Show pending and dead-lettered job counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := a.queue(cmd.Context())
			if err != nil {
				return err
			}
			pending, err := jobs.Size(cmd.Context())
			if err != nil {
				return err
			}
			dead, err := jobs.DeadLetterSize(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"queue":        jobs.Name(),
				"pending":      pending,
				"deadLettered": dead,
			})
		},
	}
}

func drainCmd(a *app) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Process one batch of due jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := a.queue(cmd.Context())
			if err != nil {
				return err
			}
			d := &worker.Drainer{Queue: jobs, BatchSize: batch, Logger: a.logger}
			summary, err := d.Drain(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().IntVar(&batch, "batch", worker.DefaultBatchSize, "maximum jobs to process")
	return cmd
}

func clearCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every pending job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear the queue without --yes")
			}
			jobs, err := a.queue(cmd.Context())
			if err != nil {
				return err
			}
			if err := jobs.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", jobs.Name())
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
