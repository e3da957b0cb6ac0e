package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/application/checkout"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/payment"
)

var (
	payPlan         string
	paySubscription string
	payPhone        string
	payToken        string
)

var payCmd = &cobra.Command{
	Use:   "pay",
	Short: "Push one payment and wait for its outcome",
	Long: `Push one M-Pesa payment and follow it until it succeeds, fails or times out.

Examples:
  checkout pay --plan pro-monthly --phone 0712345678 --token $TOKEN
  CHECKOUT_TOKEN=... checkout pay --subscription sub-42 --phone 712345678`,
	RunE: runPay,
}

func init() {
	payCmd.Flags().StringVar(&payPlan, "plan", "", "plan to pay for")
	payCmd.Flags().StringVar(&paySubscription, "subscription", "", "subscription to pay for")
	payCmd.Flags().StringVar(&payPhone, "phone", "", "M-Pesa phone number")
	payCmd.Flags().StringVar(&payToken, "token", "", "bearer token (defaults to $CHECKOUT_TOKEN)")
	payCmd.MarkFlagsMutuallyExclusive("plan", "subscription")
	payCmd.MarkFlagsOneRequired("plan", "subscription")
	_ = payCmd.MarkFlagRequired("phone")
}

func runPay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ref := payment.Ref{Kind: payment.RefPlan, ID: payPlan}
	if paySubscription != "" {
		ref = payment.Ref{Kind: payment.RefSubscription, ID: paySubscription}
	}

	token := payToken
	if token == "" {
		token = os.Getenv("CHECKOUT_TOKEN")
	}

	flow, err := a.newFlow(checkout.Params{
		Owner:      "cli",
		Ref:        ref,
		Phone:      payPhone,
		Credential: token,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.dispatcher != nil {
		go a.dispatcher.Run(ctx)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "requesting %s from %s\n", ref, payPhone)

	if err := flow.Initiate(ctx); err != nil {
		return err
	}

	if attempt := flow.Snapshot(); !attempt.Status.Terminal() {
		printAttempt(out, attempt)
	}

	select {
	case <-flow.Done():
	case <-ctx.Done():
		flow.ForceClose()
		return ctx.Err()
	}

	attempt := flow.Snapshot()
	printAttempt(out, attempt)

	if attempt.Status != payment.StatusSucceeded {
		return errors.New(attempt.ErrorMessage)
	}
	return nil
}

func printAttempt(out io.Writer, attempt payment.Attempt) {
	fmt.Fprintf(out, "%s", attempt.Status)
	if attempt.PaymentID != "" {
		fmt.Fprintf(out, " (payment %s, %d checks)", attempt.PaymentID, attempt.AttemptsMade)
	}
	if attempt.ErrorMessage != "" {
		fmt.Fprintf(out, ": %s", attempt.ErrorMessage)
	}
	fmt.Fprintln(out)
}
