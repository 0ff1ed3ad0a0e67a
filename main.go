package main

import "github.com/aifoundry-org/multibuild/cmd"

func main() {
	cmd.Execute()
}
