// Command stfutool inspects and prepares Signpost flash images from a host.
//
// It works on a raw page image (-dev file:PATH) or, through an FT232H, on an
// FM25CL FRAM wired to ADBUS0..2 with chip select on ADBUS4 (-dev ftdi).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"
)

var (
	devSpec  = flag.String("dev", "ftdi", "backend: ftdi or file:PATH")
	devPages = flag.Int("pages", 0, "page count (file: grow the image to this size; ftdi: FRAM size, default 16)")
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
	stfutool [-dev ftdi|file:PATH] [-pages N] <command> [arguments]

Commands:
	flags	 print the boot flags in page 2
	trigger	 write boot flags for an update descriptor
	stage	 write an image (binary or Intel HEX) at an offset
	dump	 dump pages as Intel HEX
`)
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Set("logtostderr", "true")
	flag.Parse()
	defer glog.Flush()
	if flag.NArg() == 0 {
		usage()
	}

	switch cmd := flag.Arg(0); cmd {
	case "flags":
		flagsCmd(flag.Args()[1:])
	case "trigger":
		triggerCmd(flag.Args()[1:])
	case "stage":
		stageCmd(flag.Args()[1:])
	case "dump":
		dumpCmd(flag.Args()[1:])
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %q\n", cmd)
		usage()
	}
}
