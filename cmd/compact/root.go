package compact

import (
	"context"
	"fmt"
	"strings"

	"code.cloudfoundry.org/bytefmt"
	cmdUtil "github.com/ValentinKolb/kvsd/cmd/util"
	"github.com/ValentinKolb/kvsd/lib/core"
	"github.com/ValentinKolb/kvsd/lib/store"
	"github.com/ValentinKolb/kvsd/lib/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// CompactCmd rewrites table logs so they only hold the latest value of every key
var CompactCmd = &cobra.Command{
	Use:   "compact [namespace/table...]",
	Short: "Compact table logs (offline)",
	Long:  `Rewrite the logs of the given tables (all tables if none is given) so that they only hold the latest value of every key. Deleted keys are dropped. It refuses to run while a server holds the same root directory.`,
	RunE:  run,
}

func init() {
	cmdUtil.SetupRootDirFlag(CompactCmd)
	cmdUtil.SetupLogFlag(CompactCmd)
}

func run(cmd *cobra.Command, args []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := cmdUtil.InitLogging(); err != nil {
		return err
	}

	refs, err := parseRefs(args)
	if err != nil {
		return err
	}

	c, err := core.New(core.Options{RootDir: viper.GetString("root-dir")})
	if err != nil {
		return err
	}

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	err = compactAll(cmd.Context(), c, refs)
	stop()
	if cerr := <-done; err == nil {
		err = cerr
	}
	return err
}

func compactAll(ctx context.Context, c *core.Core, refs []store.TableRef) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if len(refs) == 0 {
		infos, err := c.Tables(ctx)
		if err != nil {
			return err
		}
		for _, info := range infos {
			ref, err := parseRef(info.Name)
			if err != nil {
				return err
			}
			refs = append(refs, ref)
		}
	}

	for _, ref := range refs {
		before, after, err := c.Compact(ctx, ref)
		if err != nil {
			return fmt.Errorf("compact %s: %w", ref, err)
		}
		printResult(before, after)
	}
	return nil
}

func printResult(before, after table.Info) {
	fmt.Printf("%-30s %8s -> %-8s %6d -> %d entries\n",
		before.Name,
		bytefmt.ByteSize(uint64(before.Size)),
		bytefmt.ByteSize(uint64(after.Size)),
		before.Entries,
		after.Entries,
	)
}

func parseRefs(args []string) ([]store.TableRef, error) {
	refs := make([]store.TableRef, 0, len(args))
	for _, arg := range args {
		ref, err := parseRef(arg)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func parseRef(s string) (store.TableRef, error) {
	ns, tbl, ok := strings.Cut(s, "/")
	if !ok || ns == "" || tbl == "" {
		return store.TableRef{}, fmt.Errorf("invalid table %q (expected namespace/table)", s)
	}
	return store.TableRef{Namespace: ns, Table: tbl}, nil
}
