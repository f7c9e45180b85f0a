package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func identityCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "identity"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show-did",
		Short: "print this node's DID",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initNode(); err != nil {
				return err
			}
			fmt.Println(node.Signer.DID())
			return nil
		},
	})
	return cmd
}
