// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var optionsCmd = &cobra.Command{
	Use:   "options",
	Short: "print the effective options",
	Long: `
Prints the options obtained by applying --options over the defaults, in the
text format accepted by --options. Invalid options are reported.
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := loadOptions()
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), opts.String())
		return nil
	},
}
