package main

import "github.com/marlonvidal/timekeep/services/timerd/cli"

func main() {
	cli.Execute()
}
