package main

import "treasury-pipeline/internal/cli"

func main() {
	cli.Execute()
}
