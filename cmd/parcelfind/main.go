// parcelfind finds tax parcels listed in a spreadsheet and exports them as a
// new feature collection plus a GeoJSON file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	configFile string
	verbose    bool

	workspaceFlag       string
	outputWorkspaceFlag string
	collectionFlag      string
	keyFlag             string
	sheetFlag           string
	operatorFlag        string
	geojsonDirFlag      string

	// load flags
	loadName string
	loadSRID int

	// watch flags
	inboxFlag string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "parcelfind",
	Short: "Find tax parcels listed in a spreadsheet and export them",
	Long: `parcelfind joins an .xlsx or .csv list of tax parcel numbers onto the parcel
feature collection, selects the matching parcels, and writes them as a new
collection Parcels_<II>_<MMDDYY_HHMM> plus a GeoJSON file of the same name.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run <table>",
	Short: "Export the parcels listed in a table",
	Long: `Join the table onto the parcel collection on the join key, select every
parcel with a match, and export the selection.

Examples:
  parcelfind run appraisal_list.xlsx --geojson-dir ./geojson
  parcelfind run list.csv --key PIN --geojson-dir s3://gis-exports/parcels
  parcelfind run list.xlsx --sheet Parcels --output-workspace ./exports.duckdb`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var loadCmd = &cobra.Command{
	Use:   "load <file.geojson>",
	Short: "Import a GeoJSON feature collection into the workspace",
	Args:  cobra.ExactArgs(1),
	RunE:  runLoad,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the collections in the workspace",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run on every table dropped into an inbox folder",
	Long: `Watch an inbox directory and run the export for every new .xlsx or .csv
file. Runs are handled one at a time in arrival order.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var nameCmd = &cobra.Command{
	Use:   "name",
	Short: "Print the output name a run would use now",
	Args:  cobra.NoArgs,
	RunE:  runName,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (merged after the standard locations)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&workspaceFlag, "workspace", "", "Workspace holding the parcel collection")
	rootCmd.PersistentFlags().StringVar(&operatorFlag, "operator", "", "Operator login used for output naming (default: current user)")

	for _, cmd := range []*cobra.Command{runCmd, watchCmd} {
		cmd.Flags().StringVar(&outputWorkspaceFlag, "output-workspace", "", "Workspace receiving the output collection (default: --workspace)")
		cmd.Flags().StringVar(&collectionFlag, "collection", "", "Target parcel collection")
		cmd.Flags().StringVar(&keyFlag, "key", "", "Join key field")
		cmd.Flags().StringVar(&sheetFlag, "sheet", "", "Worksheet to read (default: first)")
		cmd.Flags().StringVar(&geojsonDirFlag, "geojson-dir", "", "GeoJSON destination directory or s3://bucket/prefix")
	}

	loadCmd.Flags().StringVar(&loadName, "name", "", "Collection name (default: file name)")
	loadCmd.Flags().IntVar(&loadSRID, "srid", 0, "Spatial reference (default: from the file, else 4326)")

	watchCmd.Flags().StringVar(&inboxFlag, "inbox", "", "Inbox directory to watch")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(nameCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nInterrupted, finishing the current run...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}
