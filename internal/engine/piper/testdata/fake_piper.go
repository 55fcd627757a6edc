package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Echoes its flags and stdin so tests can assert on the invocation.
func main() {
	in, _ := io.ReadAll(os.Stdin)
	if strings.Contains(string(in), "FAIL") {
		fmt.Fprintln(os.Stderr, "synthesis failed")
		os.Exit(1)
	}
	fmt.Printf("%s|%s", strings.Join(os.Args[1:], " "), in)
}
