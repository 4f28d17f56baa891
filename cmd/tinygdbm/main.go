// Command tinygdbm is the maintenance tool for database files.
//
//	tinygdbm dump [-tags] <file>     print every record
//	tinygdbm check <file>            verify structural invariants
//	tinygdbm reorganize <file>       compact the file in place
//	tinygdbm bench [flags] <dir>     measure throughput over sharded files
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/TinyMUSH/tinygdbm/pkg/dbkey"
	"github.com/TinyMUSH/tinygdbm/pkg/store"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <dump|check|reorganize|bench> [flags] <path>\n", os.Args[0])
	os.Exit(2)
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch os.Args[1] {
	case "dump":
		err = runDump(os.Args[2:])
	case "check":
		err = runCheck(os.Args[2:])
	case "reorganize":
		err = runReorganize(os.Args[2:])
	case "bench":
		err = runBench(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		slog.Error(os.Args[1]+" failed", "err", err)
		os.Exit(1)
	}
}

// openArg parses fs against args and opens the single positional path.
func openArg(fs *flag.FlagSet, args []string, mode store.Mode) (*store.DB, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		usage()
	}
	return store.Open(fs.Arg(0), store.Config{Mode: mode})
}

func runDump(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	tags := fs.Bool("tags", false, "decode the trailing record-type tag of composite keys")
	db, err := openArg(fs, args, store.Reader)
	if err != nil {
		return err
	}
	defer db.Close()

	n := 0
	key, err := db.FirstKey()
	for err == nil {
		data, ferr := db.Fetch(key)
		if ferr != nil {
			return ferr
		}
		if *tags {
			payload, typ, serr := dbkey.Split(key)
			if serr != nil {
				fmt.Printf("%q\t%q\n", key, data)
			} else {
				fmt.Printf("%q[%d]\t%q\n", payload, typ, data)
			}
		} else {
			fmt.Printf("%q\t%q\n", key, data)
		}
		n++
		key, err = db.NextKey(key)
	}
	if !errors.Is(err, store.ErrEndOfKeys) {
		return err
	}
	slog.Info("dump complete", "records", n)
	return nil
}

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	db, err := openArg(fs, args, store.Reader)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Verify(); err != nil {
		return err
	}
	digest, err := db.Digest()
	if err != nil {
		return err
	}
	n := 0
	key, err := db.FirstKey()
	for err == nil {
		n++
		key, err = db.NextKey(key)
	}
	if !errors.Is(err, store.ErrEndOfKeys) {
		return err
	}
	slog.Info("database consistent", "path", db.Path(), "records", n,
		"digest", fmt.Sprintf("%016x", digest))
	return nil
}

func runReorganize(args []string) error {
	fs := flag.NewFlagSet("reorganize", flag.ExitOnError)
	db, err := openArg(fs, args, store.Writer)
	if err != nil {
		return err
	}
	defer db.Close()

	before, err := os.Stat(db.Path())
	if err != nil {
		return err
	}
	digest, err := db.Digest()
	if err != nil {
		return err
	}
	start := time.Now()
	if err := db.Reorganize(); err != nil {
		return err
	}
	check, err := db.Digest()
	if err != nil {
		return err
	}
	if check != digest {
		return fmt.Errorf("digest changed across rebuild: %016x != %016x", check, digest)
	}
	after, err := os.Stat(db.Path())
	if err != nil {
		return err
	}
	slog.Info("reorganized", "path", db.Path(),
		"before_bytes", before.Size(), "after_bytes", after.Size(),
		"elapsed", time.Since(start))
	return nil
}

// runBench measures aggregate store/fetch/delete throughput. Handles are
// single-threaded, so each worker drives its own shard file; the shards are
// removed afterwards.
func runBench(args []string) error {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	workers := fs.Int("workers", 4, "concurrent shard files")
	ops := fs.Int("n", 100000, "records per shard")
	valueSize := fs.Int("value", 128, "value size in bytes")
	fast := fs.Bool("fast", true, "skip fsync between commits")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		usage()
	}
	dir := fs.Arg(0)

	value := make([]byte, *valueSize)
	for i := range value {
		value[i] = byte(i)
	}

	start := time.Now()
	var g errgroup.Group
	for w := 0; w < *workers; w++ {
		g.Go(func() error {
			path := filepath.Join(dir, fmt.Sprintf("bench-%s.db", uuid.NewString()))
			defer os.Remove(path)
			db, err := store.Open(path, store.Config{Mode: store.NewDB, Fast: *fast})
			if err != nil {
				return err
			}
			defer db.Close()

			for i := 0; i < *ops; i++ {
				key := []byte(fmt.Sprintf("bench-key-%08d", i))
				if err := db.Store(key, value, store.Insert); err != nil {
					return err
				}
			}
			for i := 0; i < *ops; i++ {
				key := []byte(fmt.Sprintf("bench-key-%08d", i))
				if _, err := db.Fetch(key); err != nil {
					return err
				}
			}
			for i := 0; i < *ops; i += 2 {
				key := []byte(fmt.Sprintf("bench-key-%08d", i))
				if err := db.Delete(key); err != nil {
					return err
				}
			}
			return db.Verify()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	elapsed := time.Since(start)
	total := *workers * (*ops*2 + *ops/2)
	slog.Info("bench complete", "workers", *workers, "ops", total,
		"elapsed", elapsed,
		"ops_per_sec", fmt.Sprintf("%.0f", float64(total)/elapsed.Seconds()))
	return nil
}
