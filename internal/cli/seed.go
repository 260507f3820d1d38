package cli

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"orderflow/internal/config"
	"orderflow/internal/seed"
)

type seedFlags struct {
	url      string
	count    int
	interval time.Duration
	clientID string
	seed     int64
	timeout  time.Duration
}

func newSeedCommand() *cobra.Command {
	f := &seedFlags{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Send fake signed orders to a running gateway",
		Long: `Generate realistic fake orders and POST them to <url>/orders, signed with
CLIENT_SECRET. Useful for exercising a local stack end to end.

Examples:
  # 100 orders to a local gateway
  CLIENT_SECRET=dev orderflow seed --count 100

  # one order per second, reproducible content
  CLIENT_SECRET=dev orderflow seed --count 60 --interval 1s --seed 42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup(config.RoleSeed, false)
			if err != nil {
				return err
			}
			if f.count <= 0 {
				return fmt.Errorf("%w: --count must be positive", config.ErrInvalid)
			}

			s := f.seed
			if s == 0 {
				s = time.Now().UnixNano()
			}

			client := seed.NewClient(f.url, f.clientID, cfg.ClientSecret, f.timeout)
			ctx, stop := signalContext()
			defer stop()

			st := seed.Run(ctx, seed.NewGenerator(s), client, f.count, f.interval)
			log.Info().
				Int("sent", st.Sent).
				Int("accepted", st.Accepted).
				Int("rejected", st.Rejected).
				Int("errors", st.Errors).
				Msg("seed finished")

			fmt.Fprintf(cmd.OutOrStdout(), "sent=%d accepted=%d rejected=%d errors=%d\n",
				st.Sent, st.Accepted, st.Rejected, st.Errors)
			if st.Accepted < st.Sent {
				return fmt.Errorf("%d of %d orders were not accepted", st.Sent-st.Accepted, st.Sent)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&f.url, "url", "http://localhost:8080", "gateway base URL")
	cmd.Flags().IntVar(&f.count, "count", 10, "number of orders to send")
	cmd.Flags().DurationVar(&f.interval, "interval", 0, "delay between orders")
	cmd.Flags().StringVar(&f.clientID, "client-id", "seed", "value of the X-Client-Id header")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "faker seed (0 = random)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 5*time.Second, "per-request HTTP timeout")
	return cmd
}
