// techscreen - Interview Session Engine
package main

import "github.com/ashureev/techscreen/internal/cli"

func main() {
	cli.Execute()
}
