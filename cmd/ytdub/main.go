package main

import "github.com/wwwsec/yt-tools/internal/cli"

func main() {
	cli.Main()
}
