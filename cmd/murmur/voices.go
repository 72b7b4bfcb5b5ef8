package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newVoicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "List voices from the voice manifest",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			bank, err := openBank(cfg.Paths.VoiceManifest)
			if err != nil {
				return err
			}
			if bank == nil {
				_, err = fmt.Fprintln(os.Stdout, "no voice manifest configured")
				return err
			}

			voices := bank.List()
			if len(voices) == 0 {
				_, err = fmt.Fprintln(os.Stdout, "voice manifest is empty")
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tLICENSE\tPATH")
			for _, v := range voices {
				license := v.License
				if license == "" {
					license = "-"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", v.ID, license, v.Path)
			}

			return w.Flush()
		},
	}

	return cmd
}
