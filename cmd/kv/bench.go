package kv

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/ValentinKolb/kvsd/cmd/util"
	"github.com/ValentinKolb/kvsd/lib/store"
	"github.com/ValentinKolb/kvsd/lib/value"
	"github.com/ValentinKolb/kvsd/rpc/client"
	"github.com/ValentinKolb/kvsd/rpc/common"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	benchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Performance testing tool for kvsd servers",
		Args:    cobra.NoArgs,
		RunE:    runBench,
		PreRunE: processBenchConfig,
	}
	benchKeyPrefix      = "__bench"
	benchLargeValueSize = uint64(100 * bytefmt.KILOBYTE)
	benchNumThreads     = 10
	benchKeySpread      = 100
	benchOps            = 10000
	benchSkip           = make([]string, 0)

	benchTests = []string{"set", "set-large", "get", "delete"}
)

func init() {
	// add flags
	key := "skip"
	benchCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	benchCmd.Flags().Int(key, 10, util.WrapString("Number of concurrent connections to use for the benchmark"))
	key = "ops"
	benchCmd.Flags().Int(key, 10000, util.WrapString("Number of operations per test"))
	key = "large-value-size"
	benchCmd.Flags().String(key, "100K", util.WrapString("How large the value for the set-large test should be (e.g. 100K, 1M)"))
	key = "keys"
	benchCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	benchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	size, err := common.ParseSize(viper.GetString("large-value-size"))
	if err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	benchLargeValueSize = size
	benchKeySpread = max(viper.GetInt("keys"), 1)
	benchNumThreads = max(viper.GetInt("threads"), 1)
	benchOps = max(viper.GetInt("ops"), 1)
	benchSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// benchResult is the outcome of one test
type benchResult struct {
	name    string
	timer   metrics.Timer
	errors  metrics.Counter
	elapsed time.Duration
}

func runBench(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	config, err := util.GetClientConfig()
	if err != nil {
		return err
	}

	fmt.Println("Performance testing tool for kvsd servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d\n", benchNumThreads)
	fmt.Printf("Table: %s\n", tableRef.String())
	fmt.Println()

	pool, err := client.DialPool(ctx, *config, benchNumThreads)
	if err != nil {
		return err
	}
	defer pool.Close()

	small, err := value.FromString("test")
	if err != nil {
		return err
	}
	large, err := value.New(make([]byte, benchLargeValueSize))
	if err != nil {
		return err
	}

	fmt.Println("starting tests...")

	registry := metrics.NewRegistry()
	results := make([]*benchResult, 0, len(benchTests))

	for _, test := range benchTests {
		if shouldSkip(test) {
			fmt.Printf("%-20sskipped\n", test)
			continue
		}

		keys := getKeys(test)

		// prepare
		if test == "get" || test == "delete" {
			fill(ctx, pool, keys, small)
		}

		var op func(ctx context.Context, key string) error
		switch test {
		case "set":
			op = func(ctx context.Context, key string) error { return pool.Set(ctx, tableRef, key, small) }
		case "set-large":
			op = func(ctx context.Context, key string) error { return pool.Set(ctx, tableRef, key, large) }
		case "get":
			op = func(ctx context.Context, key string) error {
				_, err := pool.Get(ctx, tableRef, key)
				return err
			}
		case "delete":
			op = func(ctx context.Context, key string) error {
				_, err := pool.Delete(ctx, tableRef, key)
				return err
			}
		}

		res := runTest(ctx, registry, test, keys, op)
		results = append(results, res)
		printResult(res)

		// cleanup
		for _, k := range keys {
			if _, err := pool.Delete(ctx, tableRef, k); err != nil {
				util.Logger.Warningf("(%s) - error deleting key: %v", test, err)
			}
		}
	}

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// runTest spreads benchOps calls of op over benchNumThreads workers
func runTest(ctx context.Context, registry metrics.Registry, name string, keys []string, op func(context.Context, string) error) *benchResult {
	res := &benchResult{
		name:   name,
		timer:  metrics.GetOrRegisterTimer(name+".latency", registry),
		errors: metrics.GetOrRegisterCounter(name+".errors", registry),
	}

	var wg sync.WaitGroup
	start := time.Now()
	for t := 0; t < benchNumThreads; t++ {
		n := benchOps / benchNumThreads
		if t < benchOps%benchNumThreads {
			n++
		}
		wg.Add(1)
		go func(offset, n int) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				key := keys[(offset+i)%len(keys)]
				began := time.Now()
				err := op(ctx, key)
				res.timer.UpdateSince(began)
				if err != nil && store.CodeOf(err) != store.RetCKeyNotFound {
					res.errors.Inc(1)
					util.Logger.Debugf("(%s) - error: %v", name, err)
				}
			}
		}(t, n)
	}
	wg.Wait()
	res.elapsed = time.Since(start)

	return res
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range benchSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// creates the test keys of one test
func getKeys(prefix string) []string {
	keys := make([]string, benchKeySpread)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s-%s-%d", benchKeyPrefix, prefix, i)
	}
	return keys
}

func fill(ctx context.Context, s store.IStore, keys []string, v *value.Value) {
	for _, k := range keys {
		if err := s.Set(ctx, tableRef, k, v); err != nil {
			util.Logger.Warningf("error setting key %s: %v", k, err)
		}
	}
}

func opsPerSec(res *benchResult) float64 {
	if res.elapsed <= 0 {
		return 0
	}
	return float64(res.timer.Count()) / res.elapsed.Seconds()
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(res *benchResult) {
	snap := res.timer.Snapshot()
	fmt.Printf("%-20s%s/op (p99 %s)\t%.0f ops/sec\t%d errors\n",
		res.name,
		time.Duration(snap.Mean()),
		time.Duration(snap.Percentile(0.99)),
		opsPerSec(res),
		res.errors.Count(),
	)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []*benchResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	// Write header
	header := []string{
		"Test", "Ops", "Errors", "MeanNs", "P50Ns", "P99Ns", "OpsPerSec",
		"Endpoint", "Table", "Threads", "LargeValueSize", "KeysCount",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for _, res := range results {
		snap := res.timer.Snapshot()
		row := []string{
			res.name,
			strconv.FormatInt(snap.Count(), 10),
			strconv.FormatInt(res.errors.Count(), 10),
			fmt.Sprintf("%.0f", snap.Mean()),
			fmt.Sprintf("%.0f", snap.Percentile(0.5)),
			fmt.Sprintf("%.0f", snap.Percentile(0.99)),
			fmt.Sprintf("%.0f", opsPerSec(res)),
			viper.GetString("endpoint"),
			tableRef.String(),
			strconv.Itoa(benchNumThreads),
			bytefmt.ByteSize(benchLargeValueSize),
			strconv.Itoa(benchKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", res.name, err)
		}
	}

	writer.Flush()
	return writer.Error()
}
