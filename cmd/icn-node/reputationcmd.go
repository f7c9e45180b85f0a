package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"icn-mesh/internal/identity"
)

func reputationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "reputation"}

	show := &cobra.Command{
		Use:   "show [did]",
		Short: "print a DID's reputation score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initNode(); err != nil {
				return err
			}
			fmt.Println(node.Reputation.GetReputation(identity.DID(args[0])))
			return nil
		},
	}

	top := &cobra.Command{
		Use:   "top [n]",
		Short: "print the n highest-reputation DIDs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initNode(); err != nil {
				return err
			}
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid n: %w", err)
			}
			for _, sd := range node.Reputation.TopN(n) {
				fmt.Printf("%s\t%d\n", sd.DID, sd.Score)
			}
			return nil
		},
	}

	cmd.AddCommand(show, top)
	return cmd
}
