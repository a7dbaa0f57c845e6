// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	concurrency int
	duration    time.Duration
	optionsText string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "tilestore [command] (flags)",
	Short: "tilestore benchmarking/introspection tool",
	Long:  ``,
}

func main() {
	log.SetFlags(0)

	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(
		compressCmd,
		recycleCmd,
		optionsCmd,
	)

	for _, cmd := range []*cobra.Command{compressCmd, recycleCmd, optionsCmd} {
		cmd.Flags().StringVar(
			&optionsText, "options", "", "options in the [Options] text format, overriding the defaults")
		cmd.Flags().BoolVarP(
			&verbose, "verbose", "v", false, "enable verbose event logging")
	}

	compressCmd.Flags().IntVar(
		&compressConfig.rows, "rows", 10000, "number of rows to load")
	compressCmd.Flags().IntVar(
		&compressConfig.distinct, "distinct", 16, "number of distinct values of the string column")
	compressCmd.Flags().Int64Var(
		&compressConfig.spread, "spread", 1000, "range of the generated integer values")
	compressCmd.Flags().Uint64Var(
		&compressConfig.seed, "seed", 1, "random seed")
	compressCmd.Flags().BoolVar(
		&compressConfig.dictOnly, "dict-only", false, "only dictionary-encode string columns")

	recycleCmd.Flags().IntVarP(
		&concurrency, "concurrency", "c", 4, "number of concurrent workers")
	recycleCmd.Flags().DurationVarP(
		&duration, "duration", "d", 5*time.Second, "the duration to run")

	if err := rootCmd.Execute(); err != nil {
		// Cobra has already printed the error message.
		os.Exit(1)
	}
}
