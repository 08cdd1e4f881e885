// Package main is the entry point for convey.
package main

func main() {
	Execute()
}
