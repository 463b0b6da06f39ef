// Package cli contains the Cobra commands of the ledger operator tool
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kode4food/ledger"
)

type (
	// session is the per-invocation wiring shared by subcommands
	session struct {
		client  *redis.Client
		backend *ledger.RedisBackend
		store   *ledger.Store
	}

	eventView struct {
		Metadata    ledger.Metadata `json:"metadata,omitempty"`
		Data        json.RawMessage `json:"data,omitempty"`
		ID          string          `json:"id"`
		Type        string          `json:"type"`
		ContentType string          `json:"content_type,omitempty"`
		Error       string          `json:"error,omitempty"`
		Position    uint64          `json:"position"`
	}
)

// NewRoot constructs the root command. Connection settings default to the
// LEDGER_* environment variables and may be overridden by flags
func NewRoot(logger *zap.Logger) *cobra.Command {
	env := storeConfigFromEnv()

	root := &cobra.Command{
		Use:           "ledger",
		Short:         "Inspect and write ledger streams stored in Redis",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("addr", env.Addr, "Redis address")
	root.PersistentFlags().String("password", env.Password, "Redis password")
	root.PersistentFlags().Int("db", env.DB, "Redis logical database")
	root.PersistentFlags().String("prefix", env.Prefix, "Key prefix")
	root.PersistentFlags().Bool("functions", false, "Append with FCALL instead of EVALSHA")

	root.AddCommand(
		newReadCommand(logger),
		newExistsCommand(logger),
		newAppendCommand(logger),
		newLoadFunctionsCommand(logger),
		newHealthCommand(logger),
	)
	return root
}

func openSession(
	ctx context.Context, cmd *cobra.Command, logger *zap.Logger,
) (*session, error) {
	flags := cmd.Flags()
	cfg := ledger.DefaultStoreConfig()
	cfg.Addr, _ = flags.GetString("addr")
	cfg.Password, _ = flags.GetString("password")
	cfg.DB, _ = flags.GetInt("db")
	cfg.Prefix, _ = flags.GetString("prefix")
	cfg.UseFunctions, _ = flags.GetBool("functions")

	client, err := ledger.NewRedisClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Addr, err)
	}
	backend, err := ledger.NewRedisBackend(
		func() redis.UniversalClient { return client }, cfg,
	)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	store, err := ledger.NewStore(backend,
		ledger.WithSerializer(ledger.RawSerializer{}),
		ledger.WithLogger(logger),
		ledger.WithPageSize(cfg.PageSize),
	)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &session{client: client, backend: backend, store: store}, nil
}

func (s *session) Close() error {
	return s.client.Close()
}

func newReadCommand(logger *zap.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <stream>",
		Short: "Print events of a stream as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetUint64("from")
			count, _ := cmd.Flags().GetInt("count")

			stream, err := ledger.NewStreamName(args[0])
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), cmd, logger)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			events, err := s.store.ReadEvents(
				cmd.Context(), stream, ledger.StreamReadPosition(from), count,
			)
			if err != nil {
				return err
			}
			return writeEvents(cmd.OutOrStdout(), events)
		},
	}
	cmd.Flags().Uint64("from", 0, "Read strictly after this logical position (0 reads from the start)")
	cmd.Flags().Int("count", 100, "Maximum number of events (0 reads to the end)")
	return cmd
}

func newExistsCommand(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <stream>",
		Short: "Report whether a stream exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stream, err := ledger.NewStreamName(args[0])
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), cmd, logger)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			ok, err := s.store.StreamExists(cmd.Context(), stream)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatBool(ok))
			return err
		},
	}
}

func newAppendCommand(logger *zap.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append <stream> <event-type> <json-data>",
		Short: "Append one JSON event to a stream",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			expected, _ := cmd.Flags().GetInt64("expected")
			metaArg, _ := cmd.Flags().GetString("metadata")

			stream, err := ledger.NewStreamName(args[0])
			if err != nil {
				return err
			}
			if !json.Valid([]byte(args[2])) {
				return fmt.Errorf("event data is not valid JSON")
			}
			var meta ledger.Metadata
			if metaArg != "" {
				if err := json.Unmarshal([]byte(metaArg), &meta); err != nil {
					return fmt.Errorf("metadata: %w", err)
				}
			}
			if expected < int64(ledger.AnyVersion) {
				return fmt.Errorf("invalid expected version %d", expected)
			}

			s, err := openSession(cmd.Context(), cmd, logger)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			ev := ledger.NewEvent(ledger.Raw{
				Type: args[1],
				Data: json.RawMessage(args[2]),
			}, meta)
			res, err := s.store.AppendEvents(
				cmd.Context(), stream, ledger.ExpectedVersion(expected),
				[]*ledger.StreamEvent{ev},
			)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(),
				"version=%d position=%d\n",
				res.NextExpectedVersion, res.GlobalPosition,
			)
			return err
		},
	}
	cmd.Flags().Int64("expected", int64(ledger.AnyVersion), "Expected version (-1 no stream, -2 any)")
	cmd.Flags().String("metadata", "", "Event metadata as a JSON object")
	return cmd
}

func newLoadFunctionsCommand(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "load-functions",
		Short: "Register the append function library on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), cmd, logger)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			return s.backend.LoadFunctions(cmd.Context())
		},
	}
}

func newHealthCommand(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), cmd, logger)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			if err := s.store.CheckHealth(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return err
		},
	}
}

func writeEvents(w io.Writer, events []*ledger.StreamEvent) error {
	enc := json.NewEncoder(w)
	for _, ev := range events {
		view := eventView{
			ID:          ev.ID.String(),
			Type:        ev.EventType,
			ContentType: ev.ContentType,
			Position:    ev.Position,
			Metadata:    ev.Metadata,
		}
		if raw, ok := ev.Payload.(ledger.Raw); ok {
			view.Data = raw.Data
		}
		if ev.Failure != nil {
			view.Error = ev.Failure.Error()
		}
		if err := enc.Encode(view); err != nil {
			return err
		}
	}
	return nil
}
