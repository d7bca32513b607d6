// schemacheck is an offline one-shot tool that validates a JSON document
// against one of this core's embedded schemas, in the same single-purpose
// shape as the teacher's bls-zk-setup command: call one library function,
// print an error to stderr, and exit non-zero on failure.
package main

import (
	"fmt"
	"os"

	"github.com/sappp/core/pkg/schema"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "usage: schemacheck <schema-name> <document.json>\n")
		os.Exit(2)
	}
	schemaName, path := os.Args[1], os.Args[2]

	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	gate, err := schema.NewGate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := gate.Validate(raw, schemaName); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s: valid against %s\n", path, schemaName)
}
