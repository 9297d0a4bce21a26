package main

import "github.com/marlonvidal/timekeep/services/sweeper/cli"

func main() {
	cli.Execute()
}
