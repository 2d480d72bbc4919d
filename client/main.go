package main

import "github.com/mahaj/venue-support/client/cmd"

func main() {
	cmd.Execute()
}
