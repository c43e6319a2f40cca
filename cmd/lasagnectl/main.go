// Command lasagnectl inspects and manipulates a lasagnedb database
// from the command line.
//
// Usage:
//
//	lasagnectl --db=<path> <command> [options]
//
// Commands:
//
//	put <key> <value>  Write a key-value pair
//	get <key>          Read a key's value
//	delete <key>       Remove a key
//	scan               Scan keys in [--from, --to)
//	stats              Print level/file counts
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	lasagnedb "github.com/xxxuuu/lasagnedb"
)

var (
	dbPath          = flag.String("db", "", "Path to the database (required)")
	hexOutput       = flag.Bool("hex", false, "Output keys and values in hex format")
	limit           = flag.Int("limit", 0, "Limit number of entries scanned (0 = unlimited)")
	fromKey         = flag.String("from", "", "Inclusive start key for scan")
	toKey           = flag.String("to", "", "Exclusive end key for scan")
	help            = flag.Bool("help", false, "Print help")
	createIfMissing = flag.Bool("create_if_missing", true, "Create database if it doesn't exist")
)

func main() {
	flag.Parse()

	if *help || len(flag.Args()) == 0 {
		printUsage()
		return
	}
	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --db flag is required")
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch command {
	case "put":
		err = cmdPut(args)
	case "get":
		err = cmdGet(args)
	case "delete":
		err = cmdDelete(args)
	case "scan":
		err = cmdScan()
	case "stats":
		err = cmdStats()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("lasagnectl - lasagnedb database inspection tool")
	fmt.Println()
	fmt.Println("Usage: lasagnectl --db=<path> <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  put <key> <value>   Write a key-value pair")
	fmt.Println("  get <key>           Read a key's value")
	fmt.Println("  delete <key>        Remove a key")
	fmt.Println("  scan                Scan keys in [--from, --to)")
	fmt.Println("  stats               Print level/file counts")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
}

func openDB() (*lasagnedb.DB, error) {
	opts := lasagnedb.DefaultOptions()
	opts.CreateIfMissing = *createIfMissing
	return lasagnedb.Open(*dbPath, opts)
}

func formatOutput(data []byte) string {
	if *hexOutput {
		return hex.EncodeToString(data)
	}
	for _, b := range data {
		if b < 32 || b > 126 {
			return hex.EncodeToString(data)
		}
	}
	return string(data)
}

func parseInput(s string) []byte {
	if strings.HasPrefix(s, "0x") {
		if decoded, err := hex.DecodeString(s[2:]); err == nil {
			return decoded
		}
	}
	return []byte(s)
}

func cmdPut(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: lasagnectl --db=<path> put <key> <value>")
	}
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	if err := db.Put(parseInput(args[0]), parseInput(args[1])); err != nil {
		return fmt.Errorf("put: %w", err)
	}
	fmt.Println("OK")
	return nil
}

func cmdGet(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: lasagnectl --db=<path> get <key>")
	}
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	value, err := db.Get(parseInput(args[0]))
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	if value == nil {
		fmt.Println("(not found)")
		return nil
	}
	fmt.Println(formatOutput(value))
	return nil
}

func cmdDelete(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: lasagnectl --db=<path> delete <key>")
	}
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	if err := db.Delete(parseInput(args[0])); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	fmt.Println("OK")
	return nil
}

func cmdScan() error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	lower := lasagnedb.Unbounded
	if *fromKey != "" {
		lower = lasagnedb.Inclusive(parseInput(*fromKey))
	}
	upper := lasagnedb.Unbounded
	if *toKey != "" {
		upper = lasagnedb.Exclusive(parseInput(*toKey))
	}

	it := db.Scan(lower, upper)
	count := 0
	for it.Valid() {
		fmt.Printf("%s => %s\n", formatOutput(it.Key()), formatOutput(it.Value()))
		count++
		if *limit > 0 && count >= *limit {
			break
		}
		it.Next()
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	fmt.Printf("\n(%d entries scanned)\n", count)
	return nil
}

func cmdStats() error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	for level, count := range db.LevelCounts() {
		fmt.Printf("L%d: %d SSTs\n", level, count)
	}
	fmt.Printf("vSSTs: %d\n", db.VSstCount())
	return nil
}
