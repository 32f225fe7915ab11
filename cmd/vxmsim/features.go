/*
Copyright 2025 The goARRG Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"io"

	"github.com/spf13/cobra"

	"goarrg.com/rhi/vxm"
)

func newFeaturesCommand(stdin io.Reader, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "features [file]",
		Short: "Validate a user feature file and print the resolved features, or the defaults without a file. Use - to read stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			features := vxm.UserFeatures{}
			switch {
			case len(args) == 0:
			case args[0] == "-":
				data, err := io.ReadAll(stdin)
				if err != nil {
					return err
				}
				if features, err = vxm.ParseUserFeatures(data); err != nil {
					return err
				}
			default:
				var err error
				if features, err = vxm.LoadUserFeatures(args[0]); err != nil {
					return err
				}
			}
			return features.Encode(stdout)
		},
	}
}
