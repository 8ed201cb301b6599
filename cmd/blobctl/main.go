package main

import "terminal-terrace/blob-service/cmd/blobctl/cmd"

func main() {
	cmd.Execute()
}
