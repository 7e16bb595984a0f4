// mkhardhat -- build a hardhat database from a text record stream
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package main

import (
	"fmt"
	"os"

	hardhat "github.com/opencoff/go-hardhat"

	"github.com/opencoff/go-fasthash"
	flag "github.com/opencoff/pflag"
	"go.uber.org/zap"
)

func main() {
	var alignment, blocksize uint64
	var parents string
	var verbose bool

	usage := fmt.Sprintf("%s [options] OUTPUT [INPUT ...]", os.Args[0])

	flag.Uint64VarP(&alignment, "alignment", "a", 0, "Align value data to `N` bytes")
	flag.Uint64VarP(&blocksize, "blocksize", "b", 0, "Avoid straddling `N`-byte blocks where possible")
	flag.StringVarP(&parents, "parents", "p", "", "Synthesise missing parent directories with value `V`")
	flag.BoolVarP(&verbose, "verbose", "v", false, "Log per-file record counts")
	flag.Usage = func() {
		fmt.Printf("mkhardhat - build a hardhat DB from a text record stream\nUsage: %s\n", usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		die("no output file name!\nUsage: %s\n", usage)
	}
	fn := args[0]
	args = args[1:]

	var logger *zap.Logger
	var err error
	if verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger = zap.NewNop()
	}
	if err != nil {
		die("can't create logger: %s", err)
	}
	defer logger.Sync()

	b, err := hardhat.NewBuilder(fn)
	if err != nil {
		die("can't create %s: %s", fn, err)
	}

	if alignment > 0 {
		if b.Alignment(alignment) == 0 && b.Fatal() {
			die("bad alignment %d: %s", alignment, b.Err())
		}
	}
	if blocksize > 0 {
		if b.BlockSize(blocksize) == 0 && b.Fatal() {
			die("bad blocksize %d: %s", blocksize, b.Err())
		}
	}

	errs := 0
	if len(args) > 0 {
		for _, f := range args {
			n, ferr := addFile(b, f, logger)
			if ferr != nil {
				warn("can't add %s: %s", f, ferr)
				errs++
				continue
			}
			logger.Info("added file", zap.String("file", f), zap.Int("records", n))
		}
	} else {
		n, ferr := addReader(b, os.Stdin, "<STDIN>", logger)
		if ferr != nil {
			b.Abort()
			die("can't add STDIN: %s", ferr)
		}
		logger.Info("added stdin", zap.Int("records", n))
	}

	// mkhardhat always backfills missing parent directories before
	// finishing, matching the original C tool's unconditional call.
	if err := b.Parents([]byte(parents)); err != nil {
		b.Abort()
		die("can't synthesise parents: %s", err)
	}

	if err := b.Finish(); err != nil {
		b.Abort()
		die("can't write %s: %s", fn, err)
	}

	if errs > 0 {
		os.Exit(1)
	}
}

func addFile(b *hardhat.Builder, fn string, logger *zap.Logger) (int, error) {
	f, err := os.Open(fn)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return addReader(b, f, fn, logger)
}

func addReader(b *hardhat.Builder, r *os.File, label string, logger *zap.Logger) (int, error) {
	recs := make(chan textRecord, 64)
	errCh := make(chan error, 1)

	go func() {
		errCh <- readTextStream(r, recs)
	}()

	seen := make(map[uint64]int)
	n := 0
	lineNo := 0
	for rec := range recs {
		lineNo++
		h := fasthash.Hash64(0, append(append([]byte{}, rec.Key...), rec.Value...))
		if prev, ok := seen[h]; ok {
			logger.Warn("duplicate input line",
				zap.String("file", label),
				zap.Int("line", lineNo),
				zap.Int("first_seen_at", prev),
			)
		} else {
			seen[h] = lineNo
		}

		if err := b.Add(rec.Key, rec.Value); err != nil {
			return n, err
		}
		n++
	}

	if err := <-errCh; err != nil {
		return n, err
	}
	return n, nil
}

func die(f string, v ...interface{}) {
	warn(f, v...)
	os.Exit(2)
}

func warn(f string, v ...interface{}) {
	s := fmt.Sprintf(f, v...)
	if n := len(s); n == 0 || s[n-1] != '\n' {
		s += "\n"
	}
	fmt.Fprintf(os.Stderr, "%s: %s", os.Args[0], s)
}
