package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/phone"
)

var validateCmd = &cobra.Command{
	Use:   "validate PHONE...",
	Short: "Normalize and check phone numbers without contacting the backend",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	invalid := 0
	for _, raw := range args {
		normalized, err := phone.Validate(raw)
		if err != nil {
			invalid++
			fmt.Fprintf(out, "%s\t%v\n", raw, err)
			continue
		}
		fmt.Fprintf(out, "%s\t%s\n", raw, normalized)
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d numbers are invalid", invalid, len(args))
	}
	return nil
}
