package main

import "github.com/VladMinzatu/optee-ftrace/internal/cli"

func main() {
	cli.Execute()
}
