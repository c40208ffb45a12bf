// Command htlc-oracled runs the off-chain time oracle that coordinates a
// two-phase HTLC atomic swap between an Asset Chain and a Payment Chain.
package main

import (
	"log"
	"os"
)

func main() {
	if err := Run(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}
