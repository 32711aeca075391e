package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/ignatzorin/revmark-backend/internal/domain/valueobject"
)

func feeCmd() *cobra.Command {
	var (
		amountRaw  string
		percentRaw string
	)

	cmd := &cobra.Command{
		Use:   "fee",
		Short: "Рассчитать комиссию платформы и выплату продавцу",
		Example: `  revmarkctl fee --amount 100.00
  revmarkctl fee --amount 19.99 --percent 7.5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := valueobject.ParseMoney(amountRaw)
			if err != nil {
				return err
			}
			percent, err := decimal.NewFromString(percentRaw)
			if err != nil {
				return fmt.Errorf("неверный процент комиссии %q: %w", percentRaw, err)
			}

			fee, payout, err := valueobject.SplitFee(amount, percent)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "amount: %s\n", amount)
			fmt.Fprintf(out, "fee:    %s\n", fee)
			fmt.Fprintf(out, "payout: %s\n", payout)
			return nil
		},
	}

	cmd.Flags().StringVar(&amountRaw, "amount", "", "сумма платежа, например 100.00")
	cmd.Flags().StringVar(&percentRaw, "percent", "5", "процент комиссии платформы")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}
