package main

import "pharmaudit/internal/cli"

func main() {
	cli.Execute()
}
