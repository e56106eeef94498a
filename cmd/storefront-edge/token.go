package main

import (
	"errors"
	"fmt"

	storefront "github.com/dawitel/storefront-edge"
	"github.com/dawitel/storefront-edge/reviewtoken"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue or verify review link tokens",
	}
	cmd.AddCommand(newTokenIssueCmd(), newTokenVerifyCmd())
	return cmd
}

func newTokenIssueCmd() *cobra.Command {
	var orderID, email string
	var linkOnly bool
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a review token for an order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := storefront.LoadConfig(configPath)
			if err != nil {
				return err
			}
			tokens, err := reviewtoken.New(cfg.ReviewSecret)
			if err != nil {
				return err
			}
			token, err := tokens.Issue(orderID, email)
			if err != nil {
				return err
			}
			if !linkOnly || cfg.PublicBaseURL == "" {
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			}
			link, err := storefront.BuildReviewLink(cfg.PublicBaseURL, cfg.ReviewPath, orderID, token)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), link)
			return nil
		},
	}
	cmd.Flags().StringVar(&orderID, "order-id", "", "order identifier")
	cmd.Flags().StringVar(&email, "email", "", "order contact email")
	cmd.Flags().BoolVar(&linkOnly, "link", false, "print the full review link")
	_ = cmd.MarkFlagRequired("order-id")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newTokenVerifyCmd() *cobra.Command {
	var orderID, token string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a review token against an order id",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := storefront.LoadConfig(configPath)
			if err != nil {
				return err
			}
			tokens, err := reviewtoken.New(cfg.ReviewSecret)
			if err != nil {
				return err
			}
			p, ok, reason := tokens.Diagnose(token, orderID)
			if !ok {
				return errors.New("invalid token: " + reason)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "valid order_id=%s email=%s expires=%s\n",
				p.OrderID, p.Email, p.ExpiresAt().UTC().Format("2006-01-02T15:04:05Z"))
			return nil
		},
	}
	cmd.Flags().StringVar(&orderID, "order-id", "", "expected order identifier")
	cmd.Flags().StringVar(&token, "token", "", "token to verify")
	_ = cmd.MarkFlagRequired("order-id")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}
