// Command rdb is the REPL shell around the storage engine: meta
// commands (.exit, .btree, .btree_internal, .constants) and a minimal
// insert/select statement grammar. There is no SQL tokenizer, parser,
// or VM here; this binary exists only to exercise the cursor/tree
// contract directly.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rdb/row"
	"rdb/table"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("RDB")
	v.AutomaticEnv() // binds RDB_PAGE_SIZE

	cmd := &cobra.Command{
		Use:   "rdb <database-file>",
		Short: "Interactive shell for the rdb storage engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pageSize := v.GetUint32("page_size")
			if flagSize, _ := cmd.Flags().GetUint32("page-size"); cmd.Flags().Changed("page-size") {
				pageSize = flagSize
			}
			log := stdr.New(nil)
			return runREPL(args[0], pageSize, log)
		},
	}
	cmd.Flags().Uint32("page-size", 0, "page size used only when creating a new database file")
	return cmd
}

func runREPL(path string, pageSize uint32, log logr.Logger) error {
	t, err := table.Open(path, pageSize, log)
	if err != nil {
		return fmt.Errorf("db > could not open %s: %w", path, err)
	}
	defer t.Close()

	rl, err := readline.New("db > ")
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt || err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ".") {
			if err := handleMetaCommand(t, line); err != nil {
				if err == errExit {
					return nil
				}
				fmt.Printf("Unrecognized command '%s'\n", line)
			}
			continue
		}

		if err := executeStatement(t, line); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

var errExit = fmt.Errorf("exit")

func handleMetaCommand(t *table.Table, line string) error {
	switch line {
	case ".exit":
		return errExit
	case ".constants":
		printConstants(t)
		return nil
	case ".btree":
		return printTree(t, false)
	case ".btree_internal":
		return printTree(t, true)
	default:
		return fmt.Errorf("unrecognized meta command")
	}
}

func printConstants(t *table.Table) {
	fmt.Println("Constants:")
	c := t.Constants()
	order := []string{"ROW_SIZE", "PAGE_SIZE", "LEAF_MAX_CELLS", "INTERNAL_MAX_CELLS", "LEAF_NODE_HEADER_SIZE", "INTERNAL_HEADER_SIZE"}
	for _, k := range order {
		fmt.Printf("%s: %d\n", k, c[k])
	}
}

func printTree(t *table.Table, internalOnly bool) error {
	lines, err := t.DebugTree(internalOnly)
	if err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Println(l)
	}
	return nil
}

func executeStatement(t *table.Table, line string) error {
	if line == "select" {
		return execSelect(t)
	}
	if strings.HasPrefix(line, "insert") {
		return execInsert(t, line)
	}
	return fmt.Errorf("unrecognized statement '%s'", line)
}

func execInsert(t *table.Table, line string) error {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return fmt.Errorf("usage: insert <id> <username> <email>")
	}
	id, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return fmt.Errorf("id must be a non-negative integer: %w", err)
	}
	r := row.Row{ID: uint32(id), Username: fields[2], Email: fields[3]}
	if err := t.InsertCursor(uint32(id)).Save(r); err != nil {
		return err
	}
	fmt.Println("Executed.")
	return nil
}

func execSelect(t *table.Table) error {
	cur, err := t.SelectCursor()
	if err != nil {
		return err
	}
	for {
		done, err := cur.EndOfTable()
		if err != nil {
			return err
		}
		if done {
			break
		}
		r, err := cur.Get()
		if err != nil {
			return err
		}
		fmt.Printf("(%d, %s, %s)\n", r.ID, r.Username, r.Email)
		if err := cur.Advance(); err != nil {
			return err
		}
	}
	fmt.Println("Executed.")
	return nil
}
