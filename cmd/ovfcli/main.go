// Command ovfcli inspects OVF 2.0 field dumps and manages the HDF5
// containers built from them.
package main

import (
	"fmt"
	"math"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/batchatco/go-native-ovf/ovf"
	"github.com/batchatco/go-native-ovf/ovf/ovf2"
	"github.com/batchatco/go-native-ovf/ovf/series"
)

var (
	verbose   bool
	container string
	progress  bool
	rebuild   bool
	noBuild   bool
)

var rootCmd = &cobra.Command{
	Use:   "ovfcli",
	Short: "Inspect OVF 2.0 field dumps and their HDF5 containers",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			ovf2.SetLogLevel(2)
		}
	},
	SilenceUsage: true,
}

var infoCmd = &cobra.Command{
	Use:   "info <file.ovf>",
	Short: "Print the header and dimensions of one OVF file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hdr, fr, err := ovf.ReadFrame(args[0])
		if err != nil {
			return err
		}
		defer fr.Close()

		for _, key := range hdr.Keys() {
			val, _ := hdr.Get(key)
			fmt.Printf("%-24s %v\n", key+":", val)
		}
		nx, ny, nz := fr.Dims()
		size := uint64(3*fr.NumNodes()) * uint64(fr.WordSize())
		fmt.Printf("\nlattice %d x %d x %d (%d nodes, %s of samples, float%d)\n",
			nx, ny, nz, fr.NumNodes(), humanize.IBytes(size), 8*fr.WordSize())
		return nil
	},
}

var buildCmd = &cobra.Command{
	Use:   "build <folder>",
	Short: "Build the container from the OVF files in a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := []series.Option{series.WithContainerName(container)}
		if progress {
			opts = append(opts, series.WithProgress())
		}
		if err := series.Build(args[0], opts...); err != nil {
			return err
		}
		fmt.Printf("wrote %s/%s\n", args[0], container)
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read <folder>",
	Short: "Load a container and print a summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := []series.Option{
			series.WithContainerName(container),
			series.WithBuildIfMissing(!noBuild),
		}
		if rebuild {
			opts = append(opts, series.WithRebuild())
		}
		if progress {
			opts = append(opts, series.WithProgress())
		}
		res, err := series.Read(args[0], opts...)
		if err != nil {
			return err
		}

		nt, nx, ny, nz := res.Shape()
		fmt.Printf("shape (%d, %d, %d, %d, 3)\n", nt, nx, ny, nz)
		if nt > 0 {
			t0, t1 := res.Time[0], res.Time[nt-1]
			if !math.IsNaN(t0) && !math.IsNaN(t1) {
				fmt.Printf("time %g .. %g over %d frames\n", t0, t1, nt)
			}
		}
		for _, key := range res.Metadata.Keys() {
			val, _ := res.Metadata.Get(key)
			fmt.Printf("%-24s %v\n", key+":", val)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable informational logging")

	for _, cmd := range []*cobra.Command{buildCmd, readCmd} {
		cmd.Flags().StringVar(&container, "container", series.DefaultContainerName,
			"container file name inside the folder")
		cmd.Flags().BoolVar(&progress, "progress", false,
			"show a per-file progress bar while building")
	}
	readCmd.Flags().BoolVar(&rebuild, "rebuild", false,
		"rebuild the container even if it exists")
	readCmd.Flags().BoolVar(&noBuild, "no-build", false,
		"fail instead of building when the container is missing")

	rootCmd.AddCommand(infoCmd, buildCmd, readCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
