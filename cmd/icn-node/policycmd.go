package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"icn-mesh/internal/identity"
	"icn-mesh/internal/policy"
)

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "policy"}

	allow := &cobra.Command{
		Use:   "allow [op] [did]",
		Short: "allow-list a DID for an operation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initNode(); err != nil {
				return err
			}
			node.Policy.Allow(policy.Op(args[0]), identity.DID(args[1]))
			return nil
		},
	}

	addScope := &cobra.Command{
		Use:   "add-scope-member [scope] [did]",
		Short: "add a DID as a member of a federation scope",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initNode(); err != nil {
				return err
			}
			node.Policy.AddScopeMember(args[0], identity.DID(args[1]))
			return nil
		},
	}

	check := &cobra.Command{
		Use:   "check [op] [did] [scope]",
		Short: "evaluate a policy decision (scope optional)",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initNode(); err != nil {
				return err
			}
			scope := ""
			if len(args) == 3 {
				scope = args[2]
			}
			d := node.Policy.Check(policy.Request{Actor: identity.DID(args[1]), Op: policy.Op(args[0]), Scope: scope})
			fmt.Printf("allowed=%t reason=%q\n", d.Allowed, d.Reason)
			return nil
		},
	}

	cmd.AddCommand(allow, addScope, check)
	return cmd
}
