// Package display decides how CLI commands print results.
package display

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/tren/errors"
)

// OutputEnv selects JSON output for every command when set to "json", for
// scripts that do not want to pass --json each time
const OutputEnv = "TREN_OUTPUT"

// ShouldOutputJSON reports whether cmd should print JSON: an explicit --json
// flag wins, then the root's persistent --json, then TREN_OUTPUT.
func ShouldOutputJSON(cmd *cobra.Command) bool {
	if cmd == nil {
		return os.Getenv(OutputEnv) == "json"
	}

	if f := cmd.Flags().Lookup("json"); f != nil && f.Changed {
		jsonFlag, _ := cmd.Flags().GetBool("json")
		return jsonFlag
	}
	if globalFlag, err := cmd.Root().PersistentFlags().GetBool("json"); err == nil && globalFlag {
		return true
	}
	return os.Getenv(OutputEnv) == "json"
}

// OutputJSON writes v to w using MarshalJSON
func OutputJSON(w io.Writer, v interface{}) error {
	data, err := MarshalJSON(v)
	if err != nil {
		return errors.Wrap(err, "failed to marshal JSON")
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
