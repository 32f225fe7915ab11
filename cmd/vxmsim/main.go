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
	"os"

	"github.com/spf13/cobra"
	"goarrg.com/debug"

	"goarrg.com/rhi/vxm"
)

func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var logLevel string
	rc := &cobra.Command{
		Use:   "vxmsim",
		Short: "Run scalable media sessions on emulated engines.",
		Long: `vxmsim drives the vxm completion tracking and multi pipe code against
an emulated media device. Each frame is split across pipes according to the
scalability decision, pipes rendezvous on a command stream barrier and every
pipe's completion is tracked through the frame tracker.
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseLogLevel(logLevel)
			if err != nil {
				return err
			}
			debug.SetLevel(level)
			vxm.SetLogLevel(level)
			return nil
		},
	}
	rc.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: verbose, info or warn.")

	rc.AddCommand(newRunCommand(stdout))
	rc.AddCommand(newFeaturesCommand(stdin, stdout))

	rc.SetIn(stdin)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

func parseLogLevel(s string) (uint32, error) {
	switch s {
	case "verbose":
		return debug.LogLevelVerbose, nil
	case "info":
		return debug.LogLevelInfo, nil
	case "warn":
		return debug.LogLevelWarn, nil
	}
	return 0, debug.Errorf("Unknown log level %q", s)
}

func main() {
	if err := NewRootCommand(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}
