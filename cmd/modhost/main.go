// Package main is the entry point for the modhost server.
package main

func main() {
	Execute()
}
