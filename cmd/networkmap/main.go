// Command networkmap は開発用Cordaネットワークのネットワークマップとドアマンを起動する。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/networkmap/internal/app"
)

func main() {
	if err := app.Main(os.Stdout, os.Args[1:], app.Run); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
