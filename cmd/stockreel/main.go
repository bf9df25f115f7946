package main

import "github.com/bobarin/stockreel/internal/cli"

func main() {
	cli.Main()
}
