package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kass/cf-poverty/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg *config.Config

	radius   float64
	years    []int
	class    string
	workers  int
	decimal  int
	logLevel string

	schemeFile  string
	unit        string
	confidence  float64
	expectUnits int
	limit       int

	estimatesFile string
	clusterKey    string
	srid          int
)

var rootCmd = &cobra.Command{
	Use:   "cfpov",
	Short: "Community forest and DHS cluster spatial analysis",
	Long: `Relates community forest boundaries to DHS survey clusters (counts within
a buffer, nearest cluster, coverage across survey rounds) and estimates the
cluster-level multidimensional poverty index with design-based standard errors.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate forest geometries and list duplicates",
	RunE:  runCheck,
}

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Count clusters within the buffer of every forest per survey year",
	RunE:  runCoverage,
}

var nearestCmd = &cobra.Command{
	Use:   "nearest",
	Short: "Find the closest cluster to every forest centroid per survey year",
	RunE:  runNearest,
}

var mpiCmd = &cobra.Command{
	Use:   "mpi",
	Short: "Estimate the MPI with linearised standard errors per spatial unit",
	RunE:  runMPI,
}

var joinCmd = &cobra.Command{
	Use:   "join CLUSTERS.shp",
	Short: "Attach MPI estimates to a cluster layer",
	Args:  cobra.ExactArgs(1),
	RunE:  runJoin,
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Save a spatial index snapshot of the cluster layers",
	RunE:  runIndex,
}

var postgisCmd = &cobra.Command{
	Use:   "postgis",
	Short: "Recompute counts and nearest clusters in PostGIS and compare",
	RunE:  runPostGIS,
}

func init() {
	rootCmd.PersistentFlags().Float64VarP(&radius, "radius", "r", 0, "Buffer radius in metres (overrides coverage.radius)")
	rootCmd.PersistentFlags().IntSliceVarP(&years, "years", "y", nil, "Survey years (overrides coverage.years)")
	rootCmd.PersistentFlags().StringVarP(&class, "class", "c", "", "Cluster class R, U or empty for all (overrides coverage.class)")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 0, "Number of worker goroutines (overrides workers)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides log.level)")

	checkCmd.Flags().IntVarP(&decimal, "decimal", "d", 0, "Decimal places compared when looking for duplicates (overrides coverage.duplicate_decimal)")

	nearestCmd.Flags().IntVarP(&limit, "limit", "l", 20, "Rows shown per year, 0 for all")

	mpiCmd.Flags().StringVarP(&schemeFile, "scheme", "s", "", "Indicator scheme YAML (overrides mpi.scheme)")
	mpiCmd.Flags().StringVarP(&unit, "unit", "u", "", "Spatial unit: cluster, region or national (overrides mpi.unit)")
	mpiCmd.Flags().Float64Var(&confidence, "confidence", 0, "Confidence level (overrides mpi.confidence)")
	mpiCmd.Flags().IntVar(&expectUnits, "expect", 0, "Number of units the microdata must contain, 0 to skip the check")
	mpiCmd.Flags().IntVarP(&limit, "limit", "l", 20, "Rows shown, 0 for all")

	joinCmd.Flags().StringVarP(&estimatesFile, "estimates", "e", "", "MPI estimates CSV (default <output>/mpi_cluster.csv)")
	joinCmd.Flags().StringVarP(&clusterKey, "key", "k", "DHSCLUST", "Cluster number column")
	joinCmd.Flags().IntVar(&expectUnits, "expect", 0, "Number of clusters the layer must contain, 0 for the layer size")

	postgisCmd.Flags().IntVar(&srid, "srid", 0, "SRID stored with the geometries")

	rootCmd.AddCommand(checkCmd, coverageCmd, nearestCmd, mpiCmd, joinCmd, indexCmd, postgisCmd)
}

// setup loads the configuration, applies flag overrides and installs the logger
func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("radius") {
		cfg.Coverage.Radius = radius
	}
	if flags.Changed("years") {
		cfg.Coverage.Years = years
	}
	if flags.Changed("class") {
		cfg.Coverage.Class = class
	}
	if flags.Changed("workers") {
		cfg.Workers = workers
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("decimal") {
		cfg.Coverage.DuplicateDecimal = decimal
	}
	if flags.Changed("scheme") {
		cfg.MPI.Scheme = schemeFile
	}
	if flags.Changed("unit") {
		cfg.MPI.Unit = unit
	}
	if flags.Changed("confidence") {
		cfg.MPI.Confidence = confidence
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	return config.InitLogger(cfg.Log)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = zap.L().Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
