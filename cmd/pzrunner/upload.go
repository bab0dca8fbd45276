package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pzchessbot/pzrunner/worker"
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload output files left behind by an earlier run",
	Long: `Compress and upload any <i>_datagen.pgn files in the engine directory,
plus files kept from failed uploads, then exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv()
		if err != nil {
			return err
		}
		defer env.close()

		identity := detectIdentity()
		if cores, _ := cmd.Flags().GetInt("cores"); cores > 0 {
			identity.Cores = cores
		}
		wcfg := worker.NewWorkerConfig(cfg)
		client := worker.NewClient(wcfg.APIURL, wcfg.HTTPTimeout, wcfg.DownloadTimeout)
		pipeline, err := newPipeline(client, env, identity)
		if err != nil {
			return err
		}

		sum := pipeline.Run(cmd.Context(), identity.Cores)
		fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d, failed %d, missing %d, from spool %d\n",
			sum.Uploaded, sum.Failed, sum.Missing, sum.Drained)
		if sum.Failed > 0 {
			return fmt.Errorf("%d uploads failed", sum.Failed)
		}
		return nil
	},
}

func init() {
	uploadCmd.Flags().Int("cores", 0, "Highest core index to look for plus one (default: detected cores)")
}
