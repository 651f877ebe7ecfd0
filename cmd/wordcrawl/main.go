// Package main is the wordcrawl binary entry point.
package main

import "github.com/wordcrawl/wordcrawl/internal/cmd"

func main() {
	cmd.Execute()
}
