// hardhat -- enumerate entries under one or more prefixes in a database
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package main

import (
	"bufio"
	"fmt"
	"os"

	hardhat "github.com/opencoff/go-hardhat"

	flag "github.com/opencoff/pflag"
)

func main() {
	var shallow bool

	usage := fmt.Sprintf("%s [options] DB PREFIX [PREFIX ...]", os.Args[0])

	flag.BoolVarP(&shallow, "shallow", "s", false, "List only direct children of each prefix")
	flag.Usage = func() {
		fmt.Printf("hardhat - enumerate entries under a prefix\nUsage: %s\n", usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		die("need a database and at least one prefix!\nUsage: %s\n", usage)
	}

	db, err := hardhat.Open(args[0])
	if err != nil {
		die("can't open %s: %s", args[0], err)
	}
	defer db.Close()

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	for _, prefix := range args[1:] {
		c := db.Cursor([]byte(prefix))
		if c.Key() != nil {
			printEntry(w, c.Key(), c.Value(), db)
		}
		for c.Fetch(!shallow) {
			printEntry(w, c.CurrentKey(), c.CurrentValue(), db)
		}
	}
}

// printEntry prints key/value and cross-checks that key independently
// resolves to the same value via a direct lookup, the way the original
// hardhat.c test program self-checks every entry it enumerates.
func printEntry(w *bufio.Writer, key, value []byte, db *hardhat.DB) {
	fmt.Fprintf(w, "[%s] -> [%s]\n", key, value)

	v2, ok := db.Lookup(key)
	if !ok || string(v2) != string(value) {
		fmt.Fprintf(os.Stderr, "hardhat: inconsistent lookup for %q\n", key)
	}
}

func die(f string, v ...interface{}) {
	warn(f, v...)
	os.Exit(1)
}

func warn(f string, v ...interface{}) {
	s := fmt.Sprintf(f, v...)
	if n := len(s); n == 0 || s[n-1] != '\n' {
		s += "\n"
	}
	fmt.Fprintf(os.Stderr, "%s: %s", os.Args[0], s)
}
