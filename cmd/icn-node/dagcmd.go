package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"icn-mesh/internal/dag"
)

func dagCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "dag"}

	put := &cobra.Command{
		Use:   "put [data]",
		Short: "anchor a raw block in the DAG and print its CID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initNode(); err != nil {
				return err
			}
			block, err := dag.NewBlock(node.Signer, []byte(args[0]), nil, "")
			if err != nil {
				return err
			}
			if err := node.DAG.Put(block); err != nil {
				return err
			}
			fmt.Println(block.CID.String())
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get [cid]",
		Short: "fetch a block by CID and print its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initNode(); err != nil {
				return err
			}
			cid, err := decodeCID(args[0])
			if err != nil {
				return err
			}
			block, err := node.DAG.Get(cid)
			if err != nil {
				return err
			}
			fmt.Printf("%s\n", block.Data)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "list known CIDs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initNode(); err != nil {
				return err
			}
			for _, c := range node.DAG.List() {
				fmt.Println(c.String())
			}
			return nil
		},
	}

	cmd.AddCommand(put, get, list)
	return cmd
}
