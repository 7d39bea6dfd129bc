package main

import "silver-stress-tracker/internal/cli"

func main() {
	cli.Execute()
}
