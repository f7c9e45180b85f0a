package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"icn-mesh/internal/dag"
	"icn-mesh/internal/types"
)

func meshCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "mesh"}

	submit := &cobra.Command{
		Use:   "submit [payload] [cost-mana]",
		Short: "submit an echo job signed by this node's identity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initNode(); err != nil {
				return err
			}
			cost, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid cost-mana: %w", err)
			}

			job := types.Job{
				Spec: types.JobSpec{
					Kind:    types.JobSpecEcho,
					Payload: []byte(args[0]),
				},
				Creator:  node.Signer.DID(),
				CostMana: cost,
			}
			job.ID = dag.Compute(dag.CodecRaw, job.ManifestBytes())
			sig, err := node.Signer.Sign(job.SignableBytes())
			if err != nil {
				return fmt.Errorf("sign job: %w", err)
			}
			job.Signature = sig

			view, err := manager.Submit(context.Background(), job)
			if err != nil {
				return err
			}
			fmt.Println(view.Job.ID.String())
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status [job-id]",
		Short: "print a managed job's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initNode(); err != nil {
				return err
			}
			cid, err := decodeCID(args[0])
			if err != nil {
				return err
			}
			view, ok := manager.Lookup(cid)
			if !ok {
				return fmt.Errorf("unknown job: %s", cid)
			}
			fmt.Printf("state=%s reason=%q\n", view.State, view.FailureReason)
			return nil
		},
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "run this node's mesh job manager until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initNode(); err != nil {
				return err
			}
			go regenerator.Run(cmd.Context())
			return manager.Run(cmd.Context())
		},
	}

	cmd.AddCommand(submit, status, run)
	return cmd
}
