// vadiff builds the derivative-unknown registry of a model described by a
// vadiff.toml manifest, replays its raise requests and reports the result.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"

	"github.com/chazu/vadiff/autodiff"
	"github.com/chazu/vadiff/manifest"
	"github.com/chazu/vadiff/slotdb"

	_ "github.com/tliron/commonlog/simple"
)

// errLockMismatch is returned by -check when the registry drifted.
var errLockMismatch = errors.New("registry does not match lock file")

type options struct {
	verbose    bool
	snapshot   string
	sqlite     string
	check      bool
	updateLock bool
	dir        string
}

func main() {
	var opts options
	fs := flag.NewFlagSet("vadiff", flag.ExitOnError)
	fs.BoolVar(&opts.verbose, "v", false, "Verbose output")
	fs.StringVar(&opts.snapshot, "snapshot", "", "Write a CBOR snapshot of the registry to this file (overrides [output].snapshot)")
	fs.StringVar(&opts.sqlite, "sqlite", "", "Export the slot table to this SQLite database (overrides [output].sqlite)")
	fs.BoolVar(&opts.check, "check", false, "Fail if the registry differs from the lock file")
	fs.BoolVar(&opts.updateLock, "update-lock", false, "Write the lock file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: vadiff [options] [dir]\n\n")
		fmt.Fprintf(os.Stderr, "Loads vadiff.toml from dir (or the nearest parent), builds the unknown\n")
		fmt.Fprintf(os.Stderr, "registry and replays its [[raise]] requests.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  vadiff ./models/diode              # Print the unknowns\n")
		fmt.Fprintf(os.Stderr, "  vadiff -sqlite slots.db .          # Export the slot table\n")
		fmt.Fprintf(os.Stderr, "  vadiff -check .                    # Verify against vadiff.lock\n")
	}
	fs.Parse(os.Args[1:])

	opts.dir = "."
	if fs.NArg() > 0 {
		opts.dir = fs.Arg(0)
	}

	verbosity := 0
	if opts.verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	if err := run(context.Background(), opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	log := commonlog.GetLogger("vadiff.cli")

	m, err := manifest.FindAndLoad(opts.dir)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("no %s found in %s or its parents", manifest.FileName, opts.dir)
	}
	log.Infof("loaded %s from %s", m.Project.Name, m.Dir)

	r, err := m.Registry()
	if err != nil {
		return err
	}
	results, err := m.Replay(r)
	if err != nil {
		return err
	}

	printRegistry(out, m, r, results)

	snapshotPath := opts.snapshot
	if snapshotPath == "" {
		snapshotPath = m.Path(m.Output.Snapshot)
	}
	if snapshotPath != "" {
		if err := writeSnapshot(snapshotPath, r); err != nil {
			return err
		}
		log.Infof("wrote snapshot to %s", snapshotPath)
	}

	sqlitePath := opts.sqlite
	if sqlitePath == "" {
		sqlitePath = m.Path(m.Output.SQLite)
	}
	if sqlitePath != "" {
		if err := exportSlots(ctx, sqlitePath, r); err != nil {
			return err
		}
	}

	return checkLock(m, r, opts, out)
}

func printRegistry(out io.Writer, m *manifest.Manifest, r *autodiff.Unknowns, results []autodiff.Unknown) {
	fmt.Fprintf(out, "%s: %d first-order, %d higher-order unknowns\n",
		m.Project.Name, r.NumFirstOrder(), r.NumHigherOrder())

	for i, h := range results {
		req := m.Raises[i]
		fmt.Fprintf(out, "  raise %s by %s -> %s\n",
			autodiff.Unknown(req.Unknown), autodiff.FirstOrderUnknown(req.By), h)
	}

	for i := 0; i < r.Len(); i++ {
		u := autodiff.Unknown(i)
		fmt.Fprintf(out, "  %-14s order %d  %s\n", u, r.Order(u), r.Describe(u))
	}
}

func writeSnapshot(path string, r *autodiff.Unknowns) error {
	data, err := autodiff.MarshalSnapshot(r.Snapshot())
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func exportSlots(ctx context.Context, path string, r *autodiff.Unknowns) error {
	db, err := slotdb.Open(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Export(ctx, r)
}

func checkLock(m *manifest.Manifest, r *autodiff.Unknowns, opts options, out io.Writer) error {
	if !opts.check && !opts.updateLock {
		return nil
	}

	current, err := manifest.NewLock(m.Project.Name, r)
	if err != nil {
		return err
	}
	lockPath := m.Path(m.Output.Lock)

	if opts.check {
		locked, err := manifest.ReadLock(lockPath)
		if err != nil {
			return err
		}
		if locked == nil {
			return fmt.Errorf("no lock file at %s", lockPath)
		}
		if !current.Matches(locked) {
			return fmt.Errorf("%w: have %s (%d+%d), locked %s (%d+%d)", errLockMismatch,
				current.Fingerprint, current.FirstOrder, current.HigherOrder,
				locked.Fingerprint, locked.FirstOrder, locked.HigherOrder)
		}
		fmt.Fprintf(out, "lock ok: %s\n", current.Fingerprint)
	}

	if opts.updateLock {
		if err := manifest.WriteLock(lockPath, current); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s\n", lockPath)
	}
	return nil
}
