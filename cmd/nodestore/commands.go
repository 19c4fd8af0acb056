package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/urfave/cli/v2"

	"github.com/eigerco/nodestore/internal/store"
	"github.com/eigerco/nodestore/pkg/db"
	"github.com/eigerco/nodestore/pkg/log"
)

var rawFlag = &cli.BoolFlag{
	Name:  "raw",
	Usage: "take keys and values as literal strings instead of hex",
}

var Columns = cli.Command{
	Action: columns,
	Name:   "columns",
	Usage:  "lists every column with its capabilities per store",
}

var Get = cli.Command{
	Action:    get,
	Name:      "get",
	Usage:     "reads one key, falling back to the cold store",
	ArgsUsage: "<column> <key>",
	Flags:     []cli.Flag{rawFlag},
}

var Scan = cli.Command{
	Action:    scan,
	Name:      "scan",
	Usage:     "lists the entries of a column of the hot store in key order",
	ArgsUsage: "<column>",
	Flags: []cli.Flag{
		rawFlag,
		&cli.StringFlag{Name: "prefix", Usage: "only keys starting with `KEY`"},
		&cli.StringFlag{Name: "start", Usage: "first `KEY` of the range, inclusive"},
		&cli.StringFlag{Name: "end", Usage: "last `KEY` of the range, exclusive"},
		&cli.IntFlag{Name: "limit", Value: 100, Usage: "stop after `N` entries, 0 for no limit"},
	},
}

var Put = cli.Command{
	Action:    put,
	Name:      "put",
	Usage:     "writes one key to the hot store",
	ArgsUsage: "<column> <key> <value>",
	Flags: []cli.Flag{
		rawFlag,
		&cli.BoolFlag{Name: "merge", Usage: "merge the value instead of replacing it"},
	},
}

var Delete = cli.Command{
	Action:    del,
	Name:      "delete",
	Usage:     "deletes one key from the hot store",
	ArgsUsage: "<column> <key>",
	Flags:     []cli.Flag{rawFlag},
}

var Prune = cli.Command{
	Action:    prune,
	Name:      "prune",
	Usage:     "removes blocks below a height from the hot store",
	ArgsUsage: "<height>",
}

func columns(c *cli.Context) error {
	storage, err := openStorage(c)
	if err != nil {
		return err
	}
	defer storage.Close() //nolint:errcheck // read-only command

	coldStore, hasCold := storage.ColdStore()
	out := c.App.Writer
	fmt.Fprintf(out, "%-4s %-14s %-8s %-6s %s\n", "ID", "NAME", "REFCOUNT", "HOT", "COLD")
	for _, col := range db.Columns() {
		info, err := col.Info()
		if err != nil {
			return err
		}
		hot, err := storage.HotStore().Capabilities(col)
		if err != nil {
			return err
		}
		coldCaps := "-"
		if hasCold {
			caps, err := coldStore.Capabilities(col)
			if err != nil {
				return err
			}
			coldCaps = formatCaps(caps)
		}
		fmt.Fprintf(out, "%-4d %-14s %-8t %-6s %s\n", col, info.Name, info.RefCounted, formatCaps(hot), coldCaps)
	}
	return nil
}

func formatCaps(caps db.Capabilities) string {
	var flags []string
	if caps.Iterable {
		flags = append(flags, "iter")
	}
	if caps.DeleteRange {
		flags = append(flags, "range")
	}
	if len(flags) == 0 {
		return "get"
	}
	return strings.Join(flags, ",")
}

func get(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return errors.New("expected <column> <key>")
	}
	col, key, err := parseColumnAndKey(c)
	if err != nil {
		return err
	}

	storage, err := openStorage(c)
	if err != nil {
		return err
	}
	defer storage.Close() //nolint:errcheck // read-only command

	value, ok, err := storage.GetArchival(col, key)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Newf("key %s not found in column %s", formatBytes(c, key), col)
	}
	fmt.Fprintln(c.App.Writer, formatBytes(c, value))
	return nil
}

func scan(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return errors.New("expected <column>")
	}
	col, err := db.ParseColumn(c.Args().Get(0))
	if err != nil {
		return err
	}
	if c.IsSet("prefix") && (c.IsSet("start") || c.IsSet("end")) {
		return errors.New("--prefix cannot be combined with --start or --end")
	}

	storage, err := openStorage(c)
	if err != nil {
		return err
	}
	defer storage.Close() //nolint:errcheck // read-only command

	var it db.Iterator
	if c.IsSet("prefix") {
		prefix, err := parseBytes(c, c.String("prefix"))
		if err != nil {
			return err
		}
		it, err = storage.HotStore().IterPrefix(col, prefix)
		if err != nil {
			return err
		}
	} else {
		var start, end []byte
		if c.IsSet("start") {
			if start, err = parseBytes(c, c.String("start")); err != nil {
				return err
			}
		}
		if c.IsSet("end") {
			if end, err = parseBytes(c, c.String("end")); err != nil {
				return err
			}
		}
		if it, err = storage.HotStore().IterRange(col, start, end); err != nil {
			return err
		}
	}
	defer it.Close() //nolint:errcheck // read-only iterator

	limit, n := c.Int("limit"), 0
	for it.Next() {
		if limit > 0 && n == limit {
			log.CLI.Info().Int("limit", limit).Msg("output truncated")
			break
		}
		value, err := it.Value()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s\t%s\n", formatBytes(c, it.Key()), formatBytes(c, value))
		n++
	}
	return it.Err()
}

func put(c *cli.Context) error {
	if c.Args().Len() != 3 {
		return errors.New("expected <column> <key> <value>")
	}
	col, key, err := parseColumnAndKey(c)
	if err != nil {
		return err
	}
	value, err := parseBytes(c, c.Args().Get(2))
	if err != nil {
		return err
	}

	tx := db.NewTransaction()
	switch {
	case col.IsRefCounted():
		// Reference counted columns only accept counted merges.
		tx.IncrementRefcount(col, key, value)
	case c.Bool("merge"):
		tx.Merge(col, key, value)
	default:
		tx.Insert(col, key, value)
	}
	return writeHot(c, tx)
}

func del(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return errors.New("expected <column> <key>")
	}
	col, key, err := parseColumnAndKey(c)
	if err != nil {
		return err
	}

	tx := db.NewTransaction()
	if col.IsRefCounted() {
		tx.DecrementRefcount(col, key)
	} else {
		tx.Delete(col, key)
	}
	return writeHot(c, tx)
}

func prune(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return errors.New("expected <height>")
	}
	height, err := strconv.ParseUint(c.Args().Get(0), 10, 64)
	if err != nil {
		return errors.Wrap(err, "parse height")
	}

	storage, err := openStorage(c)
	if err != nil {
		return err
	}
	pruned, err := store.NewChain(storage).PruneBelow(height)
	if err != nil {
		return errors.CombineErrors(err, storage.Close())
	}
	if err := store.NewTrie(storage).PruneChangesBelow(height); err != nil {
		return errors.CombineErrors(err, storage.Close())
	}
	fmt.Fprintf(c.App.Writer, "pruned %d blocks below height %d\n", pruned, height)
	return storage.Close()
}

func writeHot(c *cli.Context, tx *db.Transaction) error {
	storage, err := openStorage(c)
	if err != nil {
		return err
	}
	if err := storage.HotStore().Write(tx); err != nil {
		return errors.CombineErrors(err, storage.Close())
	}
	log.CLI.Debug().Int("ops", tx.Len()).Msg("written")
	return storage.Close()
}

func parseColumnAndKey(c *cli.Context) (db.Column, []byte, error) {
	col, err := db.ParseColumn(c.Args().Get(0))
	if err != nil {
		return 0, nil, err
	}
	key, err := parseBytes(c, c.Args().Get(1))
	if err != nil {
		return 0, nil, err
	}
	return col, key, nil
}

func parseBytes(c *cli.Context, s string) ([]byte, error) {
	if c.Bool("raw") {
		return []byte(s), nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, errors.Wrapf(err, "decode hex %q", s)
	}
	return b, nil
}

func formatBytes(c *cli.Context, b []byte) string {
	if c.Bool("raw") {
		return string(b)
	}
	return "0x" + hex.EncodeToString(b)
}
