package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"icn-mesh/internal/identity"
)

func manaCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "mana"}

	balance := &cobra.Command{
		Use:   "balance [did]",
		Short: "print a DID's mana balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initNode(); err != nil {
				return err
			}
			fmt.Println(node.Mana.GetBalance(identity.DID(args[0])))
			return nil
		},
	}

	credit := &cobra.Command{
		Use:   "credit [did] [amount]",
		Short: "credit mana to a DID (test/bootstrap use only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initNode(); err != nil {
				return err
			}
			amt, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}
			node.Mana.Credit(identity.DID(args[0]), amt)
			return nil
		},
	}

	cmd.AddCommand(balance, credit)
	return cmd
}
